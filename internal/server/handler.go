package server

import (
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/k11v/pages/internal/app/apphttp"
	"github.com/k11v/pages/internal/metrics"
)

type handler struct {
	mux *http.ServeMux
}

func newHandler(log *slog.Logger, gatherer prom.Gatherer, pinger apphttp.Pinger) *handler {
	mux := http.NewServeMux()
	h := &handler{mux: mux}

	mux.HandleFunc("GET /health", apphttp.NewHandler(pinger, log).GetHealth)
	mux.Handle("GET /metrics", metrics.HTTPHandler(gatherer))

	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}
