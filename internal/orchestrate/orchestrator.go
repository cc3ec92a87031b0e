// SPDX-License-Identifier: MIT

package orchestrate

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
	"github.com/avcapd/avcapd/internal/stage"
	"github.com/avcapd/avcapd/internal/util"
)

// VideoConfig holds the capture/encode parameters for the video path.
type VideoConfig struct {
	Device     string
	Width      int
	Height     int
	FPS        int
	Bitrate    int
	Codec      string
	OutputPath string
}

// AudioConfig holds the capture parameters for the audio path.
type AudioConfig struct {
	Device     string
	SampleRate int
	Channels   int
	OutputPath string
}

// Config wires one Orchestrator run: device adapters, output paths, and
// an optional fixed run duration for the Timer worker; zero means run
// until SIGINT/SIGTERM.
type Config struct {
	Video VideoConfig
	Audio AudioConfig

	// DurationSec is the fixed run length in seconds. Zero means the
	// Timer worker is never started and only a signal ends the run.
	DurationSec int

	VideoSource capture.VideoSource
	AudioSource capture.AudioSource
	Encoder     capture.VideoEncoder
	H264Sink    capture.ByteSink
	PcmSink     capture.ByteSink

	Logger *slog.Logger
}

// Orchestrator owns the pipeline's bootstrap, fixed spawn/join order, and
// teardown. It is the only component that constructs the
// queues, the stop latch, and the stats bag, and the only component that
// calls Destroy on them.
type Orchestrator struct {
	cfg       Config
	stop      *pipeline.StopLatch
	stats     *pipeline.Stats
	queues    *pipeline.Queues
	registry  *Registry
	resources *util.ResourceTracker
	logger    *slog.Logger
	sigCh     chan os.Signal
}

// New constructs an Orchestrator and its pipeline core. It also
// registers interest in SIGINT/SIGTERM immediately, before any stage
// exists: signals must be blocked process-wide from startup so there is
// no window where an early INT/TERM could hit Go's default
// process-terminating disposition before SignalWaiter is spawned and
// listening. Run is responsible for unregistering this interest once
// SignalWaiter has joined.
func New(cfg Config) (*Orchestrator, error) {
	stop := pipeline.NewStopLatch()
	queues, err := pipeline.NewQueues(stop)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return &Orchestrator{
		cfg:       cfg,
		stop:      stop,
		stats:     pipeline.NewStats(),
		queues:    queues,
		registry:  NewRegistry(),
		resources: util.NewResourceTracker(),
		logger:    logger,
		sigCh:     sigCh,
	}, nil
}

// Status returns a snapshot of every stage's lifecycle, consumed by
// internal/health's /healthz.
func (o *Orchestrator) Status() []StageStatus { return o.registry.Status() }

// Stats returns the shared counters/gauges, consumed by internal/health's
// /metrics.
func (o *Orchestrator) Stats() *pipeline.Stats { return o.stats }

// Queues returns the three bounded FIFOs, for StatsTicker's depth report.
func (o *Orchestrator) Queues() *pipeline.Queues { return o.queues }

// RequestStop triggers the same shutdown transition a SIGINT/SIGTERM
// would, for callers (e.g. a CLI command) that need to stop the pipeline
// programmatically rather than via process signal.
func (o *Orchestrator) RequestStop() { o.stop.RequestStop() }

const (
	stageVideoCapture = "video_capture"
	stageAudioCapture = "audio_capture"
	stageVideoEncode  = "video_encode"
	stageH264Sink     = "h264_sink"
	stagePcmSink      = "pcm_sink"
	stageStatsTicker  = "stats_ticker"
	stageSignalWaiter = "signal_waiter"
	stageTimer        = "timer"
)

// spawn launches fn in a panic-recovering goroutine (internal/util.SafeGoWithRecover)
// and records the stage as running in the registry.
func (o *Orchestrator) spawn(name string, fn func() error) <-chan error {
	errCh := make(chan error, 1)
	o.registry.MarkStarting(name)
	o.resources.TrackResource(name, errCh)
	util.SafeGoWithRecover(name, os.Stderr, fn, errCh, nil)
	return errCh
}

// join waits for a stage's error channel and records its exit in the
// registry, logging a non-nil error. Untracking on join (rather than
// on spawn) means a stage whose errCh is never drained — the only way
// a goroutine could leak past Run's fixed join order — still shows up
// in resources.LeakedResources() at shutdown.
func (o *Orchestrator) join(name string, errCh <-chan error) {
	err := <-errCh
	o.resources.UntrackResource(name)
	o.registry.MarkStopped(name, err)
	if err != nil {
		o.logger.Error("stage exited with error", "stage", name, "err", err)
	} else {
		o.logger.Info("stage exited", "stage", name)
	}
}

// Run spawns all eight stages and joins them in a fixed order,
// then destroys the queues. It returns once every stage has exited and
// every queue is freed.
func (o *Orchestrator) Run() error {
	q := o.queues

	videoCaptureErr := o.spawn(stageVideoCapture, func() error {
		return stage.RunVideoCapture(stage.VideoCaptureConfig{
			Source:   o.cfg.VideoSource,
			Device:   o.cfg.Video.Device,
			Width:    o.cfg.Video.Width,
			Height:   o.cfg.Video.Height,
			QueueRaw: q.Raw,
			Stop:     o.stop,
			Stats:    o.stats,
			Logger:   o.logger,
		})
	})

	audioCaptureErr := o.spawn(stageAudioCapture, func() error {
		return stage.RunAudioCapture(stage.AudioCaptureConfig{
			Source:     o.cfg.AudioSource,
			Device:     o.cfg.Audio.Device,
			SampleRate: o.cfg.Audio.SampleRate,
			Channels:   o.cfg.Audio.Channels,
			QueuePcm:   q.Pcm,
			Stop:       o.stop,
			Stats:      o.stats,
			Logger:     o.logger,
		})
	})

	videoEncodeErr := o.spawn(stageVideoEncode, func() error {
		return stage.RunVideoEncode(stage.VideoEncodeConfig{
			Encoder:  o.cfg.Encoder,
			Width:    o.cfg.Video.Width,
			Height:   o.cfg.Video.Height,
			FPS:      o.cfg.Video.FPS,
			Bitrate:  o.cfg.Video.Bitrate,
			Codec:    o.cfg.Video.Codec,
			QueueRaw: q.Raw,
			QueueEnc: q.H264,
			Stop:     o.stop,
			Stats:    o.stats,
			Logger:   o.logger,
		})
	})

	h264SinkErr := o.spawn(stageH264Sink, func() error {
		return stage.RunH264Sink(stage.H264SinkConfig{
			Sink:     o.cfg.H264Sink,
			Path:     o.cfg.Video.OutputPath,
			QueueEnc: q.H264,
			Stop:     o.stop,
			Stats:    o.stats,
			Logger:   o.logger,
		})
	})

	pcmSinkErr := o.spawn(stagePcmSink, func() error {
		return stage.RunPcmSink(stage.PcmSinkConfig{
			Sink:     o.cfg.PcmSink,
			Path:     o.cfg.Audio.OutputPath,
			QueuePcm: q.Pcm,
			Stop:     o.stop,
			Stats:    o.stats,
			Logger:   o.logger,
		})
	})

	statsTickerErr := o.spawn(stageStatsTicker, func() error {
		return stage.RunStatsTicker(stage.StatsTickerConfig{
			Stats:    o.stats,
			QueueRaw: q.Raw,
			QueueEnc: q.H264,
			QueuePcm: q.Pcm,
			Stop:     o.stop,
			Logger:   o.logger,
		})
	})

	signalWaiterErr := o.spawn(stageSignalWaiter, func() error {
		return stage.RunSignalWaiter(stage.SignalWaiterConfig{
			Ch:     o.sigCh,
			Stop:   o.stop,
			Logger: o.logger,
		})
	})

	var timerErr <-chan error
	if o.cfg.DurationSec > 0 {
		timerErr = o.spawn(stageTimer, func() error {
			return stage.RunTimer(stage.TimerConfig{
				DurationSec: o.cfg.DurationSec,
				Stop:        o.stop,
				Logger:      o.logger,
			})
		})
	}

	// Fixed join order: the data-flow stages drain in
	// producer-to-consumer order first, so a downstream sink never joins
	// while an upstream stage might still push to it.
	o.join(stageVideoCapture, videoCaptureErr)
	o.join(stageAudioCapture, audioCaptureErr)
	o.join(stageVideoEncode, videoEncodeErr)
	o.join(stageH264Sink, h264SinkErr)
	o.join(stagePcmSink, pcmSinkErr)

	// Every producer/consumer is gone; force the transition in case
	// shutdown was triggered by something other than Timer/SignalWaiter
	// (e.g. a fatal KindFatal error surfacing from a sink).
	o.stop.RequestStop()

	o.join(stageStatsTicker, statsTickerErr)

	// SignalWaiter is parked on a blocking channel read with no way to
	// observe the stop latch directly; deliver our own TERM so it can
	// join like every other stage instead of leaking a goroutine.
	if proc, err := os.FindProcess(os.Getpid()); err == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}
	o.join(stageSignalWaiter, signalWaiterErr)
	signal.Stop(o.sigCh)

	if timerErr != nil {
		o.join(stageTimer, timerErr)
	}

	o.queues.Destroy()

	if leaked := o.resources.LeakedResources(); len(leaked) > 0 {
		o.logger.Warn("resources still tracked at shutdown", "leaked", leaked)
	}

	return nil
}
