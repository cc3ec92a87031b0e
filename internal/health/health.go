// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for avcapd.
//
// /healthz reports the lifecycle state of each pipeline stage as JSON,
// suitable for systemd watchdog or orchestrator liveness probes. /metrics
// exposes the same stage states plus the pipeline counters/gauges and
// queue depths in Prometheus exposition format via
// github.com/prometheus/client_golang.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StageInfo describes the health state of a single pipeline stage
// (internal/orchestrate.Registry's snapshot, translated for JSON/metrics).
type StageInfo struct {
	Name    string        `json:"name"`
	State   string        `json:"state"`
	Healthy bool          `json:"healthy"`
	Uptime  time.Duration `json:"uptime_ns"`
	Error   string        `json:"error,omitempty"`
}

// StatusProvider returns the current lifecycle state of every pipeline
// stage. The orchestrator supplies this via a thin adapter.
type StatusProvider interface {
	Stages() []StageInfo
}

// QueueDepth is one bounded queue's current occupancy, for /metrics.
type QueueDepth struct {
	Name     string
	Size     int
	Capacity int
}

// MetricsProvider exposes the pipeline's counters, gauges, and queue
// depths (internal/pipeline.Stats and Queues) for /metrics.
type MetricsProvider interface {
	VideoFrames() uint64
	EncBytes() uint64
	AudioChunks() uint64
	DropCount() uint64
	VideoPTSDeltaUs() int64
	AudioPTSDeltaUs() int64
	QueueDepths() []QueueDepth
}

// Response is the JSON body returned by /healthz.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Stages    []StageInfo `json:"stages"`
}

// Handler serves /healthz and /metrics.
type Handler struct {
	provider    StatusProvider
	promHandler http.Handler
}

// NewHandler creates a health check HTTP handler. metrics may be nil, in
// which case /metrics reports no pipeline series (still a valid, empty
// Prometheus response).
func NewHandler(provider StatusProvider, metrics MetricsProvider) *Handler {
	reg := newRegistry(metrics)
	return &Handler{
		provider:    provider,
		promHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{Timestamp: time.Now()}

	var stages []StageInfo
	if h.provider != nil {
		stages = h.provider.Stages()
	}
	resp.Stages = stages

	healthy := len(stages) > 0
	for _, st := range stages {
		if !st.Healthy {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServe starts the health check HTTP server on the given
// address. It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness. Binds the listener synchronously so port-in-use errors
// surface before the serve goroutine starts; closes ready once bound.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
