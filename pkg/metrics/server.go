package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/health"
)

// NewMux routes /metrics, /healthz and /readyz. checker may be nil, in which
// case /readyz always reports ready.
func NewMux(m *Metrics, checker *health.Checker) *http.ServeMux {
	if checker == nil {
		checker = health.NewChecker()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", checker.LiveHandler())
	mux.HandleFunc("/readyz", checker.ReadyHandler())
	return mux
}

// StartServer serves NewMux on port in the background and returns its
// shutdown function. Long joins keep it up so progress can be scraped.
func StartServer(port int, m *Metrics, checker *health.Checker) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMux(m, checker),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}
