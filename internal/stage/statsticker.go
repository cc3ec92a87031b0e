// SPDX-License-Identifier: MIT

package stage

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/avcapd/avcapd/internal/pipeline"
)

// sizedQueue is satisfied by *pipeline.BoundedQueue[T] for any T, since
// neither method's signature mentions T; it lets StatsTicker report
// depth/capacity across Q_raw/Q_h264/Q_pcm without a type parameter of
// its own.
type sizedQueue interface {
	Size() int
	Capacity() int
}

// StatsTickerConfig wires the StatsTicker worker.
type StatsTickerConfig struct {
	Stats    *pipeline.Stats
	QueueRaw sizedQueue
	QueueEnc sizedQueue
	QueuePcm sizedQueue
	Stop     *pipeline.StopLatch
	Logger   *slog.Logger
}

// RunStatsTicker reads-and-resets the counters once a second, emits
// rate/queue-depth/pts-delta log lines, and exits once ShouldStop is
// observed. The one-second period is nominal, not precisely
// measured; clock drift within a tick is acceptable.
func RunStatsTicker(cfg StatsTickerConfig) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if cfg.Stop.ShouldStop() {
			return nil
		}
		<-ticker.C
		if cfg.Stop.ShouldStop() {
			return nil
		}

		w := cfg.Stats.SwapWindow()
		log := cfg.Logger
		if log == nil {
			continue
		}

		log.Info("stat",
			"video_fps", w.VideoFrames,
			"kbps", w.KBps(),
			"audio_chunks_per_sec", w.AudioChunks,
			"drop_count", w.DropCount,
		)
		log.Info("queue_depth",
			"raw_size", cfg.QueueRaw.Size(), "raw_cap", cfg.QueueRaw.Capacity(),
			"h264_size", cfg.QueueEnc.Size(), "h264_cap", cfg.QueueEnc.Capacity(),
			"pcm_size", cfg.QueuePcm.Size(), "pcm_cap", cfg.QueuePcm.Capacity(),
		)

		videoDelta := cfg.Stats.VideoPTSDeltaUs.Load()
		audioDelta := cfg.Stats.AudioPTSDeltaUs.Load()
		log.Info("pts_delta", "video_us", ptsDeltaOrNA(videoDelta), "audio_us", ptsDeltaOrNA(audioDelta))
	}
}

func ptsDeltaOrNA(deltaUs int64) string {
	if deltaUs == 0 {
		return "n/a"
	}
	return strconv.FormatInt(deltaUs, 10)
}
