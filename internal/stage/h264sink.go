// SPDX-License-Identifier: MIT

package stage

import (
	"log/slog"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
)

// H264SinkConfig wires the H264Sink worker.
type H264SinkConfig struct {
	Sink     capture.ByteSink
	Path     string
	QueueEnc *pipeline.BoundedQueue[*pipeline.EncodedPacket]
	Stop     *pipeline.StopLatch
	Stats    *pipeline.Stats
	Logger   *slog.Logger
}

// RunH264Sink drains Q_h264, writes each packet's bytes to the output
// file, and publishes the inter-packet PTS delta gauge. A
// partial write is fatal: it requests shutdown but still drains the
// queue via the normal close-then-None path rather than aborting mid-loop.
func RunH264Sink(cfg H264SinkConfig) error {
	if err := cfg.Sink.Open(cfg.Path); err != nil {
		return pipeline.Wrap(pipeline.KindDeviceOpen, err)
	}
	defer cfg.Sink.Close()

	var lastPTS int64

	for {
		packet, ok := cfg.QueueEnc.Pop()
		if !ok {
			return nil
		}

		if lastPTS != 0 && packet.PTSUs > lastPTS {
			cfg.Stats.SetVideoPTSDelta(packet.PTSUs - lastPTS)
		}
		lastPTS = packet.PTSUs

		n, err := cfg.Sink.Write(packet.Bytes[:packet.Size])
		if err != nil || n != packet.Size {
			if cfg.Logger != nil {
				cfg.Logger.Error("h264 sink: partial or failed write", "err", err, "wrote", n, "want", packet.Size)
			}
			cfg.Stop.RequestStop()
			continue
		}
	}
}
