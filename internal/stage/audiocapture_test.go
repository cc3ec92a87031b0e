package stage

import (
	"testing"
	"time"

	"github.com/avcapd/avcapd/internal/capture/simulate"
	"github.com/avcapd/avcapd/internal/pipeline"
)

func TestRunAudioCapturePushesChunks(t *testing.T) {
	stop := pipeline.NewStopLatch()
	q, err := pipeline.NewBoundedQueue[*pipeline.AudioChunk](8)
	if err != nil {
		t.Fatalf("NewBoundedQueue: %v", err)
	}
	pipeline.Register(stop, q)

	src := &simulate.AudioSource{PeriodMs: 1}
	stats := pipeline.NewStats()

	done := make(chan error, 1)
	go func() {
		done <- RunAudioCapture(AudioCaptureConfig{
			Source:     src,
			Device:     "hw:0,0",
			SampleRate: 48000,
			Channels:   2,
			QueuePcm:   q,
			Stop:       stop,
			Stats:      stats,
		})
	}()

	chunk, ok := q.Pop()
	if !ok {
		t.Fatal("Pop() ok = false, expected at least one chunk")
	}
	if chunk.SampleRate != 48000 || chunk.Channels != 2 {
		t.Errorf("chunk rate/channels = %d/%d, want 48000/2", chunk.SampleRate, chunk.Channels)
	}
	if chunk.BytesCount == 0 {
		t.Error("chunk.BytesCount = 0, want > 0")
	}

	stop.RequestStop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunAudioCapture returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAudioCapture did not exit after RequestStop")
	}
}

func TestRunAudioCapturePTSAdvancesBySampleCount(t *testing.T) {
	stop := pipeline.NewStopLatch()
	q, err := pipeline.NewBoundedQueue[*pipeline.AudioChunk](8)
	if err != nil {
		t.Fatalf("NewBoundedQueue: %v", err)
	}
	pipeline.Register(stop, q)

	src := &simulate.AudioSource{PeriodMs: 1}
	stats := pipeline.NewStats()

	done := make(chan error, 1)
	go func() {
		done <- RunAudioCapture(AudioCaptureConfig{
			Source:     src,
			Device:     "hw:0,0",
			SampleRate: 48000,
			Channels:   2,
			QueuePcm:   q,
			Stop:       stop,
			Stats:      stats,
		})
	}()

	first, ok := q.Pop()
	if !ok {
		t.Fatal("Pop() ok = false for first chunk")
	}
	second, ok := q.Pop()
	if !ok {
		t.Fatal("Pop() ok = false for second chunk")
	}

	wantDelta := int64(first.Frames) * 1_000_000 / int64(first.SampleRate)
	gotDelta := second.PTSUs - first.PTSUs
	if gotDelta != wantDelta {
		t.Errorf("PTS delta = %d, want %d (anchor advances by exact frame count, not wall clock)", gotDelta, wantDelta)
	}

	stop.RequestStop()
	<-done
}

func TestRunAudioCaptureOpenFailureIsDeviceOpen(t *testing.T) {
	stop := pipeline.NewStopLatch()
	q, err := pipeline.NewBoundedQueue[*pipeline.AudioChunk](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue: %v", err)
	}
	pipeline.Register(stop, q)

	err = RunAudioCapture(AudioCaptureConfig{
		Source:     &failingAudioSource{},
		Device:     "hw:0,0",
		SampleRate: 48000,
		Channels:   2,
		QueuePcm:   q,
		Stop:       stop,
		Stats:      pipeline.NewStats(),
	})

	var ke *pipeline.KindError
	if err == nil || !asKindError(err, &ke) || ke.Kind != pipeline.KindDeviceOpen {
		t.Errorf("error = %v, want KindDeviceOpen", err)
	}
}
