package stage

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/avcapd/avcapd/internal/pipeline"
)

func newSizedQueues(t *testing.T) (*pipeline.BoundedQueue[*pipeline.VideoFrame], *pipeline.BoundedQueue[*pipeline.EncodedPacket], *pipeline.BoundedQueue[*pipeline.AudioChunk]) {
	t.Helper()
	raw, err := pipeline.NewBoundedQueue[*pipeline.VideoFrame](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue(raw): %v", err)
	}
	enc, err := pipeline.NewBoundedQueue[*pipeline.EncodedPacket](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue(enc): %v", err)
	}
	pcm, err := pipeline.NewBoundedQueue[*pipeline.AudioChunk](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue(pcm): %v", err)
	}
	return raw, enc, pcm
}

func TestRunStatsTickerExitsImmediatelyIfAlreadyStopped(t *testing.T) {
	stop := pipeline.NewStopLatch()
	stop.RequestStop()
	raw, enc, pcm := newSizedQueues(t)

	done := make(chan error, 1)
	go func() {
		done <- RunStatsTicker(StatsTickerConfig{
			Stats:    pipeline.NewStats(),
			QueueRaw: raw,
			QueueEnc: enc,
			QueuePcm: pcm,
			Stop:     stop,
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunStatsTicker returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunStatsTicker did not return immediately when Stop was already requested")
	}
}

func TestRunStatsTickerLogsWindowAndQueueDepth(t *testing.T) {
	stop := pipeline.NewStopLatch()
	raw, enc, pcm := newSizedQueues(t)
	stats := pipeline.NewStats()
	stats.AddVideoFrame(1000)
	stats.AddAudioChunk()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	done := make(chan error, 1)
	go func() {
		done <- RunStatsTicker(StatsTickerConfig{
			Stats:    stats,
			QueueRaw: raw,
			QueueEnc: enc,
			QueuePcm: pcm,
			Stop:     stop,
			Logger:   logger,
		})
	}()

	time.Sleep(1200 * time.Millisecond)
	stop.RequestStop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunStatsTicker returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunStatsTicker did not exit after RequestStop")
	}

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("video_fps")) {
		t.Errorf("log output missing video_fps line: %s", out)
	}
	if !bytes.Contains([]byte(out), []byte("queue_depth")) {
		t.Errorf("log output missing queue_depth line: %s", out)
	}
}
