// SPDX-License-Identifier: MIT

// Package v4l2 is a direct V4L2 MMAP capture adapter: ioctl/mmap only, no
// cgo and no external capture library. Command encoding and the
// streaming ioctl sequence (REQBUFS, QUERYBUF+mmap, QBUF, STREAMON,
// DQBUF, STREAMOFF) follow the go4vl capture approach; bufferCount and
// the YUYV pixel format are fixed to one capture format with a fixed
// width/height.
package v4l2

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/avcapd/avcapd/internal/capture"
)

// https://elixir.bootlin.com/linux/latest/source/include/uapi/asm-generic/ioctl.h
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	numberPos = 0
	typePos   = numberPos + iocNumberBits
	sizePos   = typePos + iocTypeBits
	opPos     = sizePos + iocSizeBits
)

func ioEnc(mode, typ, number, size uintptr) uintptr {
	return (mode << opPos) | (typ << typePos) | (number << numberPos) | (size << sizePos)
}
func ioEncR(typ, number, size uintptr) uintptr  { return ioEnc(iocRead, typ, number, size) }
func ioEncW(typ, number, size uintptr) uintptr  { return ioEnc(iocWrite, typ, number, size) }
func ioEncRW(typ, number, size uintptr) uintptr { return ioEnc(iocRead|iocWrite, typ, number, size) }

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// PixelFmtYUYV is V4L2_PIX_FMT_YUYV, the packed format this adapter
// negotiates: two bytes per pixel, no driver-side recompression needed
// before the frame reaches VideoEncode.
var PixelFmtYUYV = fourcc('Y', 'U', 'Y', 'V')

const (
	fieldNone uint32 = 1

	bufTypeVideoCapture uint32 = 1
	memoryMMAP          uint32 = 1
)

type pixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

type v4l2Format struct {
	StreamType uint32
	raw        [200]byte
}

type requestBuffers struct {
	Count        uint32
	StreamType   uint32
	Memory       uint32
	Capabilities uint32
	Reserved     [1]uint32
}

type timeval struct {
	Sec  int64
	Usec int64
}

type timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type bufferInfo struct {
	Index      uint32
	StreamType uint32
	BytesUsed  uint32
	Flags      uint32
	Field      uint32
	Timestamp  timeval
	Timecode   timecode
	Sequence   uint32
	Memory     uint32
	union      [8]byte
	Length     uint32
	Reserved2  uint32
	RequestFD  int32
}

func (b *bufferInfo) offset() uint32 {
	return *(*uint32)(unsafe.Pointer(&b.union[0]))
}

var (
	vidiocSetFormat  = ioEncRW('V', 5, uintptr(unsafe.Sizeof(v4l2Format{})))
	vidiocReqBufs    = ioEncRW('V', 8, uintptr(unsafe.Sizeof(requestBuffers{})))
	vidiocQueryBuf   = ioEncRW('V', 9, uintptr(unsafe.Sizeof(bufferInfo{})))
	vidiocQueueBuf   = ioEncRW('V', 15, uintptr(unsafe.Sizeof(bufferInfo{})))
	vidiocDequeueBuf = ioEncRW('V', 17, uintptr(unsafe.Sizeof(bufferInfo{})))
	vidiocStreamOn   = ioEncW('V', 18, uintptr(unsafe.Sizeof(int32(0))))
	vidiocStreamOff  = ioEncW('V', 19, uintptr(unsafe.Sizeof(int32(0))))
)

func ioctl(fd uintptr, req uintptr, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg); errno != 0 {
		return errno
	}
	return nil
}

// bufferCount is the number of driver buffers requested at REQBUFS time;
// three gives the kernel enough slack to fill one buffer while another is
// in flight to VideoCapture's try-push, without holding so many that a
// stalled stage delays driver reclamation noticeably.
const bufferCount = 3

// Source implements capture.VideoSource over a real /dev/videoN node.
type Source struct {
	file    *os.File
	fd      uintptr
	mmapped [][]byte
	width   int
	height  int
}

// New returns an unopened V4L2 video source.
func New() *Source { return &Source{} }

// Open negotiates width/height in YUYV and requests+maps bufferCount
// driver buffers.
func (s *Source) Open(device string, width, height int) error {
	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("v4l2: open %s: %w", device, err)
	}
	s.file = f
	s.fd = f.Fd()
	s.width, s.height = width, height

	format := v4l2Format{StreamType: bufTypeVideoCapture}
	pix := pixFormat{
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: PixelFmtYUYV,
		Field:       fieldNone,
	}
	*(*pixFormat)(unsafe.Pointer(&format.raw[0])) = pix
	if err := ioctl(s.fd, vidiocSetFormat, uintptr(unsafe.Pointer(&format))); err != nil {
		_ = f.Close()
		return fmt.Errorf("v4l2: set format: %w", err)
	}

	req := requestBuffers{StreamType: bufTypeVideoCapture, Count: bufferCount, Memory: memoryMMAP}
	if err := ioctl(s.fd, vidiocReqBufs, uintptr(unsafe.Pointer(&req))); err != nil {
		_ = f.Close()
		return fmt.Errorf("v4l2: request buffers: %w", err)
	}

	s.mmapped = make([][]byte, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		buf := bufferInfo{StreamType: bufTypeVideoCapture, Memory: memoryMMAP, Index: i}
		if err := ioctl(s.fd, vidiocQueryBuf, uintptr(unsafe.Pointer(&buf))); err != nil {
			_ = f.Close()
			return fmt.Errorf("v4l2: query buffer %d: %w", i, err)
		}
		mem, err := unix.Mmap(int(s.fd), int64(buf.offset()), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("v4l2: mmap buffer %d: %w", i, err)
		}
		s.mmapped[i] = mem

		qbuf := bufferInfo{StreamType: bufTypeVideoCapture, Memory: memoryMMAP, Index: i}
		if err := ioctl(s.fd, vidiocQueueBuf, uintptr(unsafe.Pointer(&qbuf))); err != nil {
			_ = f.Close()
			return fmt.Errorf("v4l2: queue initial buffer %d: %w", i, err)
		}
	}

	return nil
}

// Start issues VIDIOC_STREAMON.
func (s *Source) Start() error {
	bufType := bufTypeVideoCapture
	if err := ioctl(s.fd, vidiocStreamOn, uintptr(unsafe.Pointer(&bufType))); err != nil {
		return fmt.Errorf("v4l2: stream on: %w", err)
	}
	return nil
}

// Dequeue issues VIDIOC_DQBUF; in O_NONBLOCK mode the driver returns
// EAGAIN when no buffer is filled yet, which this maps to
// capture.ErrWouldBlock.
func (s *Source) Dequeue() (capture.DequeuedBuffer, error) {
	buf := bufferInfo{StreamType: bufTypeVideoCapture, Memory: memoryMMAP}
	if err := ioctl(s.fd, vidiocDequeueBuf, uintptr(unsafe.Pointer(&buf))); err != nil {
		if err == unix.EAGAIN {
			return capture.DequeuedBuffer{}, capture.ErrWouldBlock
		}
		return capture.DequeuedBuffer{}, fmt.Errorf("v4l2: dequeue buffer: %w", err)
	}
	return capture.DequeuedBuffer{
		Index:    int(buf.Index),
		Bytes:    s.mmapped[buf.Index],
		Len:      int(buf.BytesUsed),
		Sequence: buf.Sequence,
	}, nil
}

// Requeue issues VIDIOC_QBUF to return a consumed buffer to the driver.
func (s *Source) Requeue(index int) error {
	buf := bufferInfo{StreamType: bufTypeVideoCapture, Memory: memoryMMAP, Index: uint32(index)}
	if err := ioctl(s.fd, vidiocQueueBuf, uintptr(unsafe.Pointer(&buf))); err != nil {
		return fmt.Errorf("v4l2: requeue buffer %d: %w", index, err)
	}
	return nil
}

// Close stops streaming, unmaps every buffer, and closes the device.
func (s *Source) Close() error {
	bufType := bufTypeVideoCapture
	_ = ioctl(s.fd, vidiocStreamOff, uintptr(unsafe.Pointer(&bufType)))
	for _, m := range s.mmapped {
		_ = unix.Munmap(m)
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
