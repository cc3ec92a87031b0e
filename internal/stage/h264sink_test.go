package stage

import (
	"testing"

	"github.com/avcapd/avcapd/internal/capture/simulate"
	"github.com/avcapd/avcapd/internal/pipeline"
)

func TestRunH264SinkWritesAndClosesOnDrain(t *testing.T) {
	stop := pipeline.NewStopLatch()
	q, err := pipeline.NewBoundedQueue[*pipeline.EncodedPacket](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue: %v", err)
	}
	pipeline.Register(stop, q)

	sink := &simulate.ByteSink{}
	stats := pipeline.NewStats()

	packets := []*pipeline.EncodedPacket{
		{Bytes: []byte{1, 2, 3}, Size: 3, PTSUs: 1000},
		{Bytes: []byte{4, 5}, Size: 2, PTSUs: 2000},
	}
	for _, p := range packets {
		if err := q.Push(p); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	q.Close()

	if err := RunH264Sink(H264SinkConfig{
		Sink:     sink,
		Path:     "/tmp/video.h264",
		QueueEnc: q,
		Stop:     stop,
		Stats:    stats,
	}); err != nil {
		t.Errorf("RunH264Sink returned %v, want nil", err)
	}

	want := []byte{1, 2, 3, 4, 5}
	got := sink.Bytes()
	if len(got) != len(want) {
		t.Fatalf("sink bytes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sink bytes = %v, want %v", got, want)
		}
	}

	if stats.VideoPTSDeltaUs.Load() != 1000 {
		t.Errorf("VideoPTSDeltaUs = %d, want 1000", stats.VideoPTSDeltaUs.Load())
	}
}

func TestRunH264SinkPartialWriteRequestsStop(t *testing.T) {
	stop := pipeline.NewStopLatch()
	q, err := pipeline.NewBoundedQueue[*pipeline.EncodedPacket](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue: %v", err)
	}
	pipeline.Register(stop, q)

	sink := &partialWriteSink{FailAt: 1}
	stats := pipeline.NewStats()

	if err := q.Push(&pipeline.EncodedPacket{Bytes: []byte{1, 2, 3, 4}, Size: 4, PTSUs: 1000}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.Close()

	if err := RunH264Sink(H264SinkConfig{
		Sink:     sink,
		Path:     "/tmp/video.h264",
		QueueEnc: q,
		Stop:     stop,
		Stats:    stats,
	}); err != nil {
		t.Errorf("RunH264Sink returned %v, want nil (shutdown is via Stop, not a returned error)", err)
	}

	if !stop.ShouldStop() {
		t.Error("ShouldStop() = false, want true after a partial write")
	}
}

func TestRunH264SinkOpenFailureIsDeviceOpen(t *testing.T) {
	stop := pipeline.NewStopLatch()
	q, err := pipeline.NewBoundedQueue[*pipeline.EncodedPacket](4)
	if err != nil {
		t.Fatalf("NewBoundedQueue: %v", err)
	}
	pipeline.Register(stop, q)

	err = RunH264Sink(H264SinkConfig{
		Sink:     &failingByteSink{},
		Path:     "/tmp/video.h264",
		QueueEnc: q,
		Stop:     stop,
		Stats:    pipeline.NewStats(),
	})

	var ke *pipeline.KindError
	if err == nil || !asKindError(err, &ke) || ke.Kind != pipeline.KindDeviceOpen {
		t.Errorf("error = %v, want KindDeviceOpen", err)
	}
}
