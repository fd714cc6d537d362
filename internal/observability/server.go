package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Exporter renders a textual metrics snapshot.
type Exporter interface {
	Export() (string, error)
}

// MetricsServer serves the metrics snapshot on a separate port so scrapes
// never touch the admission path. An export failure produces a 500, never
// a crash.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics HTTP server serving the exporter's
// snapshot at the given path on the given port.
func NewMetricsServer(port int, path string, exporter Exporter) *MetricsServer {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		text, err := exporter.Export()
		if err != nil {
			slog.Error("metrics export failed", "error", err)
			http.Error(w, "metrics encoding failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		io.WriteString(w, text)
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start begins serving metrics in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
