// SPDX-License-Identifier: MIT

package stage

import (
	"log/slog"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
)

// PcmSinkConfig wires the PcmSink worker.
type PcmSinkConfig struct {
	Sink     capture.ByteSink
	Path     string
	QueuePcm *pipeline.BoundedQueue[*pipeline.AudioChunk]
	Stop     *pipeline.StopLatch
	Stats    *pipeline.Stats
	Logger   *slog.Logger
}

// RunPcmSink mirrors H264Sink for Q_pcm: writes bytes, publishes the
// audio PTS delta gauge, and counts each successful write as one audio
// chunk. Partial-write semantics are identical to H264Sink.
func RunPcmSink(cfg PcmSinkConfig) error {
	if err := cfg.Sink.Open(cfg.Path); err != nil {
		return pipeline.Wrap(pipeline.KindDeviceOpen, err)
	}
	defer cfg.Sink.Close()

	var lastPTS int64

	for {
		chunk, ok := cfg.QueuePcm.Pop()
		if !ok {
			return nil
		}

		if lastPTS != 0 && chunk.PTSUs > lastPTS {
			cfg.Stats.SetAudioPTSDelta(chunk.PTSUs - lastPTS)
		}
		lastPTS = chunk.PTSUs

		n, err := cfg.Sink.Write(chunk.Bytes[:chunk.BytesCount])
		if err != nil || n != chunk.BytesCount {
			if cfg.Logger != nil {
				cfg.Logger.Error("pcm sink: partial or failed write", "err", err, "wrote", n, "want", chunk.BytesCount)
			}
			cfg.Stop.RequestStop()
			continue
		}
		cfg.Stats.AddAudioChunk()
	}
}
