// Package server serves the scheduler's health and metrics endpoints.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/k11v/pages/internal/app/apphttp"
)

// New returns a new HTTP server.
// It should be started with http.Server's ListenAndServe.
func New(cfg *Config, log *slog.Logger, gatherer prom.Gatherer, pinger apphttp.Pinger) *http.Server {
	addr := net.JoinHostPort(cfg.host(), strconv.Itoa(cfg.port()))

	subLogger := log.With("component", "server")
	subLogLogger := slog.NewLogLogger(subLogger.Handler(), slog.LevelError)

	h := newHandler(subLogger, gatherer, pinger)

	return &http.Server{
		Addr:              addr,
		ErrorLog:          subLogLogger,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
