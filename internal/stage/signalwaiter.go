// SPDX-License-Identifier: MIT

package stage

import (
	"log/slog"
	"os"

	"github.com/avcapd/avcapd/internal/pipeline"
)

// SignalWaiterConfig wires the SignalWaiter worker. Ch must already be
// registered with signal.Notify(ch, SIGINT, SIGTERM) by the caller,
// before any other stage was spawned, so no delivery window exists
// where INT/TERM could hit Go's default process-terminating
// disposition.
type SignalWaiterConfig struct {
	Ch     <-chan os.Signal
	Stop   *pipeline.StopLatch
	Logger *slog.Logger
}

// RunSignalWaiter synchronously waits on the pre-registered signal
// channel and requests stop on first delivery. Go has no direct
// sigwait(2) binding; a buffered channel fed by signal.Notify is the
// idiomatic equivalent: the channel read blocks the goroutine exactly
// as sigwait blocks a dedicated thread.
//
// To wake a SignalWaiter still parked here during orderly shutdown, the
// orchestrator delivers TERM to the running process; that delivery (or
// a prior one) completes the loop.
func RunSignalWaiter(cfg SignalWaiterConfig) error {
	sig := <-cfg.Ch
	if cfg.Logger != nil {
		cfg.Logger.Warn("signal received, stopping", "signal", sig)
	}
	cfg.Stop.RequestStop()
	return nil
}
