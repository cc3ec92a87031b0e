package stage

import (
	"errors"

	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/pipeline"
)

// asKindError is a small errors.As wrapper so table tests can assert on
// *pipeline.KindError without repeating the var-declare-then-As dance.
func asKindError(err error, target **pipeline.KindError) bool {
	return errors.As(err, target)
}

// failingVideoSource always fails to open, exercising the
// VideoCapture KindDeviceOpen path without touching real hardware.
type failingVideoSource struct{}

func (f *failingVideoSource) Open(device string, width, height int) error {
	return errors.New("simulated open failure")
}
func (f *failingVideoSource) Start() error { return nil }

func (f *failingVideoSource) Dequeue() (capture.DequeuedBuffer, error) {
	return capture.DequeuedBuffer{}, capture.ErrWouldBlock
}

func (f *failingVideoSource) Requeue(index int) error { return nil }
func (f *failingVideoSource) Close() error            { return nil }

// failingAudioSource always fails to open.
type failingAudioSource struct{}

func (f *failingAudioSource) Open(device string, rate, channels int) (int, int, int, int, error) {
	return 0, 0, 0, 0, errors.New("simulated open failure")
}
func (f *failingAudioSource) Read(buf []byte) (int, error) { return 0, nil }
func (f *failingAudioSource) Close() error                 { return nil }

// failingByteSink always fails to open.
type failingByteSink struct{}

func (f *failingByteSink) Open(path string) error     { return errors.New("simulated open failure") }
func (f *failingByteSink) Write(b []byte) (int, error) { return len(b), nil }
func (f *failingByteSink) Close() error                { return nil }

// fatalVideoEncoder fails Encode after AllowedFrames successful calls
// with a plain error (not capture.ErrNoOutput), simulating a dead
// encoder subprocess (e.g. closed stdin).
type fatalVideoEncoder struct {
	AllowedFrames int
	seen          int
}

func (e *fatalVideoEncoder) Init(width, height, fps, bitrate int, codec string) error {
	return nil
}

func (e *fatalVideoEncoder) Encode(frameBytes []byte) ([]byte, bool, error) {
	e.seen++
	if e.seen <= e.AllowedFrames {
		return []byte{0, 0, 0, 1}, e.seen == 1, nil
	}
	return nil, false, errors.New("encoder process exited")
}

func (e *fatalVideoEncoder) Deinit() error { return nil }

// partialWriteSink returns a short write on the FailAt'th call without
// erroring, exercising the sinks' "partial write is fatal" path.
type partialWriteSink struct {
	FailAt int
	count  int
}

func (s *partialWriteSink) Open(path string) error { return nil }

func (s *partialWriteSink) Write(b []byte) (int, error) {
	s.count++
	if s.count == s.FailAt {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (s *partialWriteSink) Close() error { return nil }
