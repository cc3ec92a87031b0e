// SPDX-License-Identifier: MIT

// Package alsaexec implements capture.AudioSource by piping raw PCM out
// of the "arecord" binary rather than binding to libasound directly:
// exec.Cmd with a piped stdout, lifecycle managed by the caller. No cgo,
// no ALSA headers.
package alsaexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avcapd/avcapd/internal/audio"
)

const bytesPerSampleS16LE = 2

// Source implements capture.AudioSource by running:
//
//	arecord -D <device> -f S16_LE -r <rate> -c <channels> -t raw
//
// and reading raw interleaved S16LE frames from its stdout.
type Source struct {
	ArecordPath string // defaults to "arecord" (resolved via PATH) if empty
	PeriodBytes int    // bytes read per Read call's target chunk; 0 uses ~20ms of audio at the requested rate
	AsoundPath  string // defaults to "/proc/asound"; overridable for tests

	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
}

// New returns an unopened ALSA capture source.
func New() *Source { return &Source{} }

// cardNumberFromDevice extracts the ALSA card number from a device string
// of the form "hw:N", "hw:N,M" or "plughw:N,M". Returns ok=false for
// device strings with no parseable card number (e.g. "default", "pulse"),
// in which case capability probing is skipped.
func cardNumberFromDevice(device string) (card int, ok bool) {
	idx := strings.IndexByte(device, ':')
	if idx < 0 {
		return 0, false
	}
	rest := device[idx+1:]
	if c := strings.IndexByte(rest, ','); c >= 0 {
		rest = rest[:c]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// probeCapabilities checks the requested rate/channels against the card's
// advertised capabilities in /proc/asound before ever starting arecord.
// Best-effort: a missing or unreadable /proc/asound/cardN/stream0 means
// the check is skipped rather than failing the Open, since not every
// ALSA driver exposes stream0.
func (s *Source) probeCapabilities(device string, rate, channels int) error {
	card, ok := cardNumberFromDevice(device)
	if !ok {
		return nil
	}
	asoundPath := s.AsoundPath
	if asoundPath == "" {
		asoundPath = "/proc/asound"
	}
	stream0, err := os.Open(filepath.Join(asoundPath, fmt.Sprintf("card%d", card), "stream0"))
	if err != nil {
		return nil
	}
	_ = stream0.Close()
	caps, err := audio.DetectCapabilities(asoundPath, card)
	if err != nil {
		return nil
	}
	if len(caps.SampleRates) > 0 && !caps.SupportsRate(rate) {
		return fmt.Errorf("alsaexec: card %d does not advertise rate %d Hz (supports %v)", card, rate, caps.SampleRates)
	}
	if len(caps.Channels) > 0 && !caps.SupportsChannels(channels) {
		return fmt.Errorf("alsaexec: card %d does not advertise %d channels (supports %v)", card, channels, caps.Channels)
	}
	if caps.IsBusy {
		busy := "another process"
		if caps.BusyBy != "" {
			busy = "pid " + caps.BusyBy
		}
		return fmt.Errorf("alsaexec: card %d is already in use by %s", card, busy)
	}
	return nil
}

// Open starts arecord negotiated for rate/channels at 16-bit signed
// little-endian, returning the driver's actually-negotiated parameters.
// arecord does not itself renegotiate silently, so the actual values
// returned here equal the requested ones unless start fails. Before
// starting the subprocess, the requested rate/channels are checked
// against /proc/asound's advertised capabilities so an unsupported
// combination fails immediately instead of after arecord has already
// forked.
func (s *Source) Open(device string, rate, channels int) (actualRate, actualChannels, bytesPerFrame, framesPerPeriod int, err error) {
	if perr := s.probeCapabilities(device, rate, channels); perr != nil {
		return 0, 0, 0, 0, perr
	}

	path := s.ArecordPath
	if path == "" {
		path = "arecord"
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path,
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(rate),
		"-c", strconv.Itoa(channels),
		"-t", "raw",
		"-q",
	)
	stdout, perr := cmd.StdoutPipe()
	if perr != nil {
		cancel()
		return 0, 0, 0, 0, fmt.Errorf("alsaexec: stdout pipe: %w", perr)
	}
	if serr := cmd.Start(); serr != nil {
		cancel()
		return 0, 0, 0, 0, fmt.Errorf("alsaexec: start arecord: %w", serr)
	}

	s.cancel = cancel
	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, 64*1024)

	bytesPerFrame = channels * bytesPerSampleS16LE
	period := s.PeriodBytes
	if period == 0 {
		// ~20ms of audio at the negotiated rate.
		period = (rate / 50) * bytesPerFrame
	}
	framesPerPeriod = period / bytesPerFrame

	return rate, channels, bytesPerFrame, framesPerPeriod, nil
}

// Read performs a blocking read, filling buf as much as the pipe
// currently allows in one read syscall: whatever arrived since the last
// call, not necessarily a full period.
func (s *Source) Read(buf []byte) (int, error) {
	return s.reader.Read(buf)
}

// Close terminates arecord and waits for it to exit.
func (s *Source) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
	return nil
}
