// Package apphttp serves the scheduler's health endpoint.
package apphttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/k11v/pages/internal/logfields"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	pinger Pinger       // required
	log    *slog.Logger // required
}

func NewHandler(pinger Pinger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{pinger: pinger, log: log.With("component", "apphttp")}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response{Status: "ok"}
	code := http.StatusOK
	if err := h.pinger.Ping(ctx); err != nil {
		h.log.Warn("health check failed", logfields.Error(err))
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("didn't encode response", logfields.Error(err))
	}
}
