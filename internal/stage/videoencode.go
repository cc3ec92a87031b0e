// SPDX-License-Identifier: MIT

package stage

import (
	"errors"
	"log/slog"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
)

// VideoEncodeConfig wires one VideoEncode worker.
type VideoEncodeConfig struct {
	Encoder  capture.VideoEncoder
	Width    int
	Height   int
	FPS      int
	Bitrate  int
	Codec    string
	QueueRaw *pipeline.BoundedQueue[*pipeline.VideoFrame]
	QueueEnc *pipeline.BoundedQueue[*pipeline.EncodedPacket]
	Stop     *pipeline.StopLatch
	Stats    *pipeline.Stats
	Logger   *slog.Logger
}

// RunVideoEncode drains Q_raw, submits each frame to the encoder, and
// blocking-pushes any resulting packet to Q_h264. A zero-packet return
// (capture.ErrNoOutput) is not an error: the warm-up period before an
// encoder starts emitting packets, and B-frame reorder delay, both
// legitimately produce it. Any other error means the encoder process
// itself is gone (closed stdin, dead subprocess) — there is no
// per-frame failure mode that leaves the encoder usable for the next
// frame, so it is Fatal and stops the pipeline rather than being
// silently dropped. The encoder is not retried.
func RunVideoEncode(cfg VideoEncodeConfig) error {
	if err := cfg.Encoder.Init(cfg.Width, cfg.Height, cfg.FPS, cfg.Bitrate, cfg.Codec); err != nil {
		return pipeline.Wrap(pipeline.KindDeviceOpen, err)
	}
	defer cfg.Encoder.Deinit()

	for {
		frame, ok := cfg.QueueRaw.Pop()
		if !ok {
			return nil
		}

		packetBytes, isKeyframe, err := cfg.Encoder.Encode(frame.Bytes[:frame.Size])
		if err != nil {
			if errors.Is(err, capture.ErrNoOutput) {
				continue
			}
			cfg.Stop.RequestStop()
			return pipeline.Wrap(pipeline.KindFatal, err)
		}

		packet := &pipeline.EncodedPacket{
			Bytes:      packetBytes,
			Size:       len(packetBytes),
			PTSUs:      frame.PTSUs,
			IsKeyframe: isKeyframe,
		}

		if err := cfg.QueueEnc.Push(packet); err != nil {
			return nil
		}
		cfg.Stats.AddVideoFrame(uint64(packet.Size))
	}
}
