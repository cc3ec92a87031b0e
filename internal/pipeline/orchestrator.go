// SPDX-License-Identifier: MIT

package pipeline

import (
	"log/slog"
)

// Queue capacities fixed by the pipeline topology.
const (
	RawQueueCapacity  = 8
	H264QueueCapacity = 64
	PcmQueueCapacity  = 256
)

// Queues bundles the three bounded FIFOs connecting the stages.
type Queues struct {
	Raw  *BoundedQueue[*VideoFrame]
	H264 *BoundedQueue[*EncodedPacket]
	Pcm  *BoundedQueue[*AudioChunk]
}

// NewQueues constructs the three queues at their fixed spec capacities
// and registers them with latch so the first RequestStop closes all
// three.
func NewQueues(latch *StopLatch) (*Queues, error) {
	raw, err := NewBoundedQueue[*VideoFrame](RawQueueCapacity)
	if err != nil {
		return nil, err
	}
	h264, err := NewBoundedQueue[*EncodedPacket](H264QueueCapacity)
	if err != nil {
		return nil, err
	}
	pcm, err := NewBoundedQueue[*AudioChunk](PcmQueueCapacity)
	if err != nil {
		return nil, err
	}

	Register(latch, raw)
	Register(latch, h264)
	Register(latch, pcm)

	return &Queues{Raw: raw, H264: h264, Pcm: pcm}, nil
}

// Destroy drains every queue (releasing residents via noop, since items
// are garbage-collected once dropped) and frees backing storage. The
// orchestrator must call this only after every stage holding a reference
// has joined.
func (q *Queues) Destroy() {
	q.Raw.Drain(nil)
	q.H264.Drain(nil)
	q.Pcm.Drain(nil)
	q.Raw.Destroy()
	q.H264.Destroy()
	q.Pcm.Destroy()
}

// Logger is the minimal logging surface the pipeline core depends on,
// satisfied by *log/slog.Logger.
type Logger = *slog.Logger
