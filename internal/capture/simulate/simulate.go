// SPDX-License-Identifier: MIT

// Package simulate provides deterministic VideoSource/AudioSource/
// VideoEncoder/ByteSink implementations used by end-to-end scenario
// tests and by component tests that must not depend on real V4L2/
// ALSA/encoder hardware.
package simulate

import (
	"bytes"
	"sync"
	"time"

	"github.com/avcapd/avcapd/internal/capture"
)

// VideoSource generates NV12 frames at a fixed nominal frame rate,
// optionally withholding frames for an initial period (scenario 4,
// "slow producer") and optionally injecting a sequence gap once
// (scenario 5).
type VideoSource struct {
	Width, Height int
	FPS           int

	// WouldBlockFor makes Dequeue return ErrWouldBlock for this long
	// after Start, simulating a source with no frames ready yet.
	WouldBlockFor time.Duration

	// GapAfter, if > 0, causes the sequence number to jump by GapSize
	// once, on the buffer after the GapAfter'th (GapAfter 5, GapSize 3
	// gives sequences 1..5 then 9: scenario 5, "V4L2 sequence jumps from
	// 5 to 9").
	GapAfter uint32
	GapSize  uint32

	mu       sync.Mutex
	started  time.Time
	seq      uint32
	gapFired bool
	closed   bool
}

func (s *VideoSource) Open(device string, width, height int) error {
	s.Width, s.Height = width, height
	return nil
}

func (s *VideoSource) Start() error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *VideoSource) Dequeue() (capture.DequeuedBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.DequeuedBuffer{}, capture.ErrWouldBlock
	}
	if s.WouldBlockFor > 0 && time.Since(s.started) < s.WouldBlockFor {
		return capture.DequeuedBuffer{}, capture.ErrWouldBlock
	}

	frameInterval := time.Second / time.Duration(nz(s.FPS, 30))
	nextDue := s.started.Add(time.Duration(s.seq+1) * frameInterval)
	if time.Now().Before(nextDue) {
		return capture.DequeuedBuffer{}, capture.ErrWouldBlock
	}

	s.seq++
	seq := s.seq
	if s.GapAfter > 0 && seq > s.GapAfter && !s.gapFired {
		seq += s.GapSize
		s.seq = seq
		s.gapFired = true
	}

	size := s.Width*s.Height*3/2
	buf := make([]byte, size)
	fill(buf, byte(seq))

	return capture.DequeuedBuffer{Index: 0, Bytes: buf, Len: size, Sequence: seq}, nil
}

func (s *VideoSource) Requeue(index int) error { return nil }

func (s *VideoSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func nz(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// AudioSource generates silent S16LE PCM periods at a fixed rate/period
// duration.
type AudioSource struct {
	Rate, Channels  int
	BytesPerSample  int
	PeriodMs        int
	started         time.Time
	mu              sync.Mutex
	periodsDelivered int
	closed          bool
}

func (a *AudioSource) Open(device string, rate, channels int) (int, int, int, int, error) {
	a.Rate, a.Channels = rate, channels
	if a.BytesPerSample == 0 {
		a.BytesPerSample = 2
	}
	if a.PeriodMs == 0 {
		a.PeriodMs = 20
	}
	a.started = time.Now()
	framesPerPeriod := a.Rate * a.PeriodMs / 1000
	return a.Rate, a.Channels, a.Channels * a.BytesPerSample, framesPerPeriod, nil
}

func (a *AudioSource) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, nil
	}
	periodDur := time.Duration(a.PeriodMs) * time.Millisecond
	due := a.started.Add(time.Duration(a.periodsDelivered+1) * periodDur)
	if d := time.Until(due); d > 0 {
		a.mu.Unlock()
		time.Sleep(d)
		a.mu.Lock()
	}
	a.periodsDelivered++
	n := len(buf)
	for i := range buf[:n] {
		buf[i] = 0
	}
	return n, nil
}

func (a *AudioSource) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

// VideoEncoder is a pass-through software "encoder": it wraps each input
// frame in a minimal AnnexB-looking envelope (start code + byte count)
// without real H.264 semantics, sufficient for exercising the pipeline's
// ownership/backpressure/PTS behavior in tests. The first WarmupFrames
// calls return ErrNoOutput before packets start flowing, matching real
// encoders' tolerated warm-up behavior; every KeyframeInterval'th packet
// is marked as a keyframe.
type VideoEncoder struct {
	WarmupFrames    int
	KeyframeInterval int

	mu      sync.Mutex
	seen    int
	emitted int
}

var annexBStart = []byte{0, 0, 0, 1}

func (e *VideoEncoder) Init(width, height, fps, bitrate int, codec string) error {
	if e.KeyframeInterval <= 0 {
		e.KeyframeInterval = 30
	}
	return nil
}

func (e *VideoEncoder) Encode(frameBytes []byte) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen++
	if e.seen <= e.WarmupFrames {
		return nil, false, capture.ErrNoOutput
	}
	e.emitted++
	isKey := e.emitted%e.KeyframeInterval == 1

	var buf bytes.Buffer
	buf.Write(annexBStart)
	buf.WriteByte(byte(len(frameBytes)))
	buf.WriteByte(byte(len(frameBytes) >> 8))
	return buf.Bytes(), isKey, nil
}

func (e *VideoEncoder) Deinit() error { return nil }

// ByteSink is an in-memory ByteSink for assertions in tests.
type ByteSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *ByteSink) Open(path string) error { return nil }

func (s *ByteSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(b)
}

func (s *ByteSink) Close() error { return nil }

func (s *ByteSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out
}

// StallingByteSink sleeps for Delay before every write, used by scenario
// 2 ("sink stall") to exercise video-path backpressure/drop behavior.
type StallingByteSink struct {
	Delay time.Duration
	Inner ByteSink
	// FailAfter, if > 0, causes the FailAfter'th write to return a
	// partial write (n < len(b)), exercising the Fatal/partial-write
	// path.
	FailAfter int

	mu    sync.Mutex
	count int
}

func (s *StallingByteSink) Open(path string) error { return s.Inner.Open(path) }

func (s *StallingByteSink) Write(b []byte) (int, error) {
	time.Sleep(s.Delay)
	s.mu.Lock()
	s.count++
	count := s.count
	s.mu.Unlock()
	if s.FailAfter > 0 && count == s.FailAfter {
		half := len(b) / 2
		_, _ = s.Inner.Write(b[:half])
		return half, nil
	}
	return s.Inner.Write(b)
}

func (s *StallingByteSink) Close() error { return s.Inner.Close() }
