// SPDX-License-Identifier: MIT

package stage

import (
	"log/slog"
	"time"

	"github.com/avcapd/avcapd/internal/pipeline"
)

// TimerConfig wires the Timer worker.
type TimerConfig struct {
	DurationSec int
	Stop        *pipeline.StopLatch
	Logger      *slog.Logger
}

// RunTimer sleeps in 1-second increments, checking ShouldStop between
// sleeps, and requests stop on natural expiry. A DurationSec of 0 means
// unlimited; the caller should not start this worker in that case (the
// orchestrator skips it, and skips joining it too).
func RunTimer(cfg TimerConfig) error {
	for i := 0; i < cfg.DurationSec; i++ {
		if cfg.Stop.ShouldStop() {
			return nil
		}
		time.Sleep(time.Second)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("timer expired, stopping", "duration_sec", cfg.DurationSec)
	}
	cfg.Stop.RequestStop()
	return nil
}
