// SPDX-License-Identifier: MIT

package pipeline

import "sync/atomic"

// Stats is the process-wide bag of atomic counters and gauges mutated by
// every stage and read-and-reset once a second by StatsTicker. All
// counter updates are relaxed-order adds (Go's sync/atomic does not
// expose an explicit memory-order knob; Add/Swap/Load on atomic.Int64
// compile to the architecture's native atomic instructions, equivalent
// to C's memory_order_relaxed updates and atomic_exchange
// read-and-reset).
type Stats struct {
	VideoFrames atomic.Uint64
	EncBytes    atomic.Uint64
	AudioChunks atomic.Uint64
	DropCount   atomic.Uint64

	// Gauges: last observed inter-item PTS delta at each sink, in
	// microseconds. Zero means "no observation yet".
	VideoPTSDeltaUs atomic.Int64
	AudioPTSDeltaUs atomic.Int64
}

// NewStats returns a zeroed Stats bag.
func NewStats() *Stats { return &Stats{} }

// AddVideoFrame records one successfully encoded frame and its packet size.
func (s *Stats) AddVideoFrame(packetBytes uint64) {
	s.VideoFrames.Add(1)
	s.EncBytes.Add(packetBytes)
}

// AddAudioChunk records one successfully written audio chunk.
func (s *Stats) AddAudioChunk() {
	s.AudioChunks.Add(1)
}

// AddDrops records n lost frames/chunks (sequence gap, queue-full,
// allocation failure, or single-item encode failure).
func (s *Stats) AddDrops(n uint64) {
	if n == 0 {
		return
	}
	s.DropCount.Add(n)
}

// SetVideoPTSDelta publishes the most recent inter-packet PTS delta
// observed by H264Sink.
func (s *Stats) SetVideoPTSDelta(deltaUs int64) {
	s.VideoPTSDeltaUs.Store(deltaUs)
}

// SetAudioPTSDelta publishes the most recent inter-chunk PTS delta
// observed by PcmSink.
func (s *Stats) SetAudioPTSDelta(deltaUs int64) {
	s.AudioPTSDeltaUs.Store(deltaUs)
}

// Window is a read-and-reset snapshot of the four counters, taken with a
// single atomic exchange per counter so no increment between ticks is
// lost or double-counted.
type Window struct {
	VideoFrames uint64
	EncBytes    uint64
	AudioChunks uint64
	DropCount   uint64
}

// SwapWindow atomically reads and resets the four counters, returning
// the values accumulated since the previous SwapWindow call. Only
// StatsTicker calls this.
func (s *Stats) SwapWindow() Window {
	return Window{
		VideoFrames: s.VideoFrames.Swap(0),
		EncBytes:    s.EncBytes.Swap(0),
		AudioChunks: s.AudioChunks.Swap(0),
		DropCount:   s.DropCount.Swap(0),
	}
}

// KBps converts a byte count accumulated over a nominally one-second
// window to kilobits per second (integer, truncating).
func (w Window) KBps() uint64 {
	return (w.EncBytes * 8) / 1000
}
