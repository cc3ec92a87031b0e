// SPDX-License-Identifier: MIT

package stage

import (
	"log/slog"
	"time"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
)

// AudioCaptureConfig wires one AudioCapture worker.
type AudioCaptureConfig struct {
	Source     capture.AudioSource
	Device     string
	SampleRate int
	Channels   int
	QueuePcm   *pipeline.BoundedQueue[*pipeline.AudioChunk]
	Stop       *pipeline.StopLatch
	Stats      *pipeline.Stats
	Logger     *slog.Logger
}

// RunAudioCapture opens the audio source, anchors a PTS clock once, then
// reads successive periods, advancing the anchor by the exact sample
// count read each time. Audio uses a blocking push: dropping
// audio is audibly worse than dropping video, so the deep Q_pcm queue
// absorbs transient sink stalls instead of shedding data.
func RunAudioCapture(cfg AudioCaptureConfig) error {
	actualRate, actualChannels, bytesPerFrame, framesPerPeriod, err := cfg.Source.Open(cfg.Device, cfg.SampleRate, cfg.Channels)
	if err != nil {
		return pipeline.Wrap(pipeline.KindDeviceOpen, err)
	}
	defer cfg.Source.Close()

	bytesPerSample := bytesPerFrame / maxInt(actualChannels, 1)
	chunkBytes := framesPerPeriod * bytesPerFrame

	ptsAnchor := pipeline.NowUs()

	for !cfg.Stop.ShouldStop() {
		buf := make([]byte, chunkBytes)

		n, err := cfg.Source.Read(buf)
		if err != nil {
			cfg.Stats.AddDrops(1)
			time.Sleep(retryDelay)
			continue
		}
		if n <= 0 {
			if cfg.Stop.ShouldStop() {
				break
			}
			time.Sleep(retryDelay)
			continue
		}

		frames := n / maxInt(actualChannels*bytesPerSample, 1)

		chunk := &pipeline.AudioChunk{
			Bytes:          buf[:n],
			BytesCount:     n,
			SampleRate:     actualRate,
			Channels:       actualChannels,
			BytesPerSample: bytesPerSample,
			Frames:         frames,
			PTSUs:          ptsAnchor,
		}

		ptsAnchor += int64(frames) * 1_000_000 / int64(maxInt(actualRate, 1))

		if err := cfg.QueuePcm.Push(chunk); err != nil {
			return nil
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
