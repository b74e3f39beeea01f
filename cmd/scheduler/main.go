package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/k11v/pages/internal/app"
	"github.com/k11v/pages/internal/metrics"
	"github.com/k11v/pages/internal/server"
)

func main() {
	run := func() int {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		slog.SetDefault(log)

		if err := loadDotenv(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		cfg, err := parseConfig(os.Environ())
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		reg := prom.NewRegistry()
		recorder := metrics.NewRecorder(reg)

		a, err := app.New(ctx, &cfg.App, log, recorder)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer a.Close()

		s, err := NewScheduler(a, log, recorder)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if err = s.Register(ctx, &cfg.Schedule); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		srv := server.New(&cfg.Server, log, reg, a)

		errc := make(chan error, 1)
		go func() {
			slog.Info("starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		s.Start()

		code := 0
		select {
		case err = <-errc:
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			code = 1
		case <-ctx.Done():
			slog.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err = srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("didn't shut down server", "error", err)
			code = 1
		}
		if err = s.Shutdown(); err != nil {
			slog.Error("didn't shut down scheduler", "error", err)
			code = 1
		}
		return code
	}
	os.Exit(run())
}
