// SPDX-License-Identifier: MIT

// Package pipeline implements the bounded-queue, stop-latch, stats, and
// timestamp primitives shared by every capture/encode stage: the
// concurrency core of the daemon.
package pipeline

// VideoFrame is a raw frame captured from the video source, in whatever
// pixel format the source negotiated (the v4l2 adapter uses YUYV).
//
// Ownership passes from VideoCapture (creator) through Q_raw to
// VideoEncode (consumer, which releases it on drop or after encode).
type VideoFrame struct {
	Bytes   []byte
	Size    int
	Width   int
	Height  int
	Stride  int
	PTSUs   int64 // monotonic microseconds, captured at dequeue
	FrameID uint64
}

// EncodedPacket is a single H.264 AnnexB payload produced by VideoEncode.
//
// Ownership passes from VideoEncode (creator) through Q_h264 to H264Sink
// (consumer, which releases it after write).
type EncodedPacket struct {
	Bytes      []byte
	Size       int
	PTSUs      int64 // inherited from the source frame
	IsKeyframe bool
}

// AudioChunk is one ALSA period's worth of interleaved PCM.
//
// Ownership passes from AudioCapture (creator) through Q_pcm to PcmSink
// (consumer, which releases it after write).
type AudioChunk struct {
	Bytes          []byte
	BytesCount     int
	SampleRate     int
	Channels       int
	BytesPerSample int // 2 for S16LE
	Frames         int // per-channel sample count in this chunk
	PTSUs          int64
}

// NewVideoFrame allocates a VideoFrame owning a size-byte buffer.
func NewVideoFrame(width, height, stride, size int, frameID uint64, ptsUs int64) *VideoFrame {
	return &VideoFrame{
		Bytes:   make([]byte, size),
		Size:    size,
		Width:   width,
		Height:  height,
		Stride:  stride,
		PTSUs:   ptsUs,
		FrameID: frameID,
	}
}

// NewAudioChunk allocates an AudioChunk owning a bytesCount-byte buffer.
func NewAudioChunk(bytesCount, sampleRate, channels, bytesPerSample int) *AudioChunk {
	return &AudioChunk{
		Bytes:          make([]byte, bytesCount),
		SampleRate:     sampleRate,
		Channels:       channels,
		BytesPerSample: bytesPerSample,
	}
}
