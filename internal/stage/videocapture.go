// SPDX-License-Identifier: MIT

// Package stage implements the eight long-lived pipeline workers:
// VideoCapture, VideoEncode, AudioCapture, H264Sink, PcmSink,
// SignalWaiter, Timer, StatsTicker.
package stage

import (
	"errors"
	"log/slog"
	"time"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
)

// retryDelay is the sleep used on WouldBlock/transient conditions across
// every stage that polls a device.
const retryDelay = time.Millisecond

// VideoCaptureConfig wires one VideoCapture worker.
type VideoCaptureConfig struct {
	Source   capture.VideoSource
	Device   string
	Width    int
	Height   int
	QueueRaw *pipeline.BoundedQueue[*pipeline.VideoFrame]
	Stop     *pipeline.StopLatch
	Stats    *pipeline.Stats
	Logger   *slog.Logger
}

// RunVideoCapture pulls raw frames from the video source, stamps each
// with a monotonic capture PTS, and try-pushes a copy to Q_raw, dropping
// under backpressure rather than stalling the camera.
func RunVideoCapture(cfg VideoCaptureConfig) error {
	log := cfg.Logger
	if err := cfg.Source.Open(cfg.Device, cfg.Width, cfg.Height); err != nil {
		return pipeline.Wrap(pipeline.KindDeviceOpen, err)
	}
	if err := cfg.Source.Start(); err != nil {
		return pipeline.Wrap(pipeline.KindDeviceOpen, err)
	}
	defer cfg.Source.Close()

	var prevSeq uint32
	var haveSeq bool
	var frameID uint64

	for !cfg.Stop.ShouldStop() {
		buf, err := cfg.Source.Dequeue()
		if err != nil {
			if errors.Is(err, capture.ErrWouldBlock) {
				time.Sleep(retryDelay)
				continue
			}
			cfg.Stats.AddDrops(1)
			time.Sleep(retryDelay)
			continue
		}

		if haveSeq && buf.Sequence > prevSeq+1 {
			cfg.Stats.AddDrops(uint64(buf.Sequence - prevSeq - 1))
		}
		prevSeq, haveSeq = buf.Sequence, true

		ptsUs := pipeline.NowUs()

		frame := pipeline.NewVideoFrame(cfg.Width, cfg.Height, cfg.Width, buf.Len, frameID, ptsUs)
		frameID++
		n := copy(frame.Bytes, buf.Bytes[:buf.Len])
		frame.Size = n

		switch cfg.QueueRaw.TryPush(frame) {
		case pipeline.TryPushOK:
			if err := cfg.Source.Requeue(buf.Index); err != nil && log != nil {
				log.Warn("video capture: requeue failed", "err", err)
			}
		case pipeline.TryPushFull:
			cfg.Stats.AddDrops(1)
			if err := cfg.Source.Requeue(buf.Index); err != nil && log != nil {
				log.Warn("video capture: requeue failed", "err", err)
			}
		case pipeline.TryPushClosed:
			_ = cfg.Source.Requeue(buf.Index)
			return nil
		}
	}
	return nil
}
