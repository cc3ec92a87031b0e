// SPDX-License-Identifier: MIT

// Package filesink implements capture.ByteSink: a plain single-file sink
// and a segmented variant that rotates by wall-clock duration instead of
// size.
package filesink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// File is a plain ByteSink writing every packet to one file, truncating
// it on Open if it already exists.
type File struct {
	mu   sync.Mutex
	file *os.File
}

// New returns an unopened single-file sink.
func New() *File { return &File{} }

// Open creates (or truncates) the output file.
func (f *File) Open(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("filesink: create dir %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("filesink: open %s: %w", path, err)
	}
	f.mu.Lock()
	f.file = file
	f.mu.Unlock()
	return nil
}

// Write appends b to the file.
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Write(b)
}

// Close closes the underlying file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// SegmentedSink is a ByteSink that rotates onto a new file every
// SegmentPeriod instead of a size threshold, so that each segment
// stays directly playable as its own media file rather than a
// byte-size-bounded log shard. Compression is dropped: a gzip'd
// .h264/.pcm segment can no longer be opened directly by a player or
// decoder, defeating the point of segmenting.
type SegmentedSink struct {
	Dir           string        // destination directory for segments
	Prefix        string        // segment filename prefix, e.g. "video" or "audio"
	Ext           string        // segment filename extension, e.g. "h264" or "pcm"
	SegmentPeriod time.Duration // rotate after this much wall-clock time
	MaxAge        time.Duration // delete segments older than this (0 = no limit)
	MaxTotalBytes int64         // delete oldest segments beyond this total (0 = no limit)

	mu          sync.Mutex
	file        *os.File
	segmentOpen time.Time
}

// Open prepares the destination directory; the first segment file is
// created lazily on the first Write so an idle sink never leaves an
// empty zero-byte segment behind.
func (s *SegmentedSink) Open(path string) error {
	if s.Dir == "" {
		s.Dir = filepath.Dir(path)
	}
	return os.MkdirAll(s.Dir, 0750)
}

// Write rotates onto a new segment if SegmentPeriod has elapsed since the
// current one opened, then writes b.
func (s *SegmentedSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || (s.SegmentPeriod > 0 && time.Since(s.segmentOpen) >= s.SegmentPeriod) {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}
	return s.file.Write(b)
}

// rotate closes the current segment (if any), opens a new timestamped
// one, and enforces retention. Caller must hold s.mu.
func (s *SegmentedSink) rotate() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("filesink: close segment: %w", err)
		}
		s.file = nil
	}

	name := fmt.Sprintf("%s-%s.%s", s.Prefix, segmentTimestamp(), s.Ext)
	path := filepath.Join(s.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("filesink: create segment %s: %w", path, err)
	}
	s.file = file
	s.segmentOpen = time.Now()

	s.enforceRetention()
	return nil
}

// segmentTimestamp is a package variable so tests can make segment names
// deterministic without relying on wall-clock formatting directly.
var segmentTimestamp = func() string { return time.Now().UTC().Format("20060102T150405.000Z") }

// enforceRetention deletes segments older than MaxAge and, if the total
// size of remaining segments exceeds MaxTotalBytes, deletes the oldest
// ones until it no longer does. Caller must hold s.mu.
func (s *SegmentedSink) enforceRetention() {
	if s.MaxAge <= 0 && s.MaxTotalBytes <= 0 {
		return
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return
	}

	type segment struct {
		path    string
		size    int64
		modTime time.Time
	}
	prefix := s.Prefix + "-"
	var segments []segment
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), "."+s.Ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segments = append(segments, segment{
			path:    filepath.Join(s.Dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	now := time.Now()
	var kept []segment
	var total int64
	for _, seg := range segments {
		if s.MaxAge > 0 && now.Sub(seg.modTime) > s.MaxAge {
			_ = os.Remove(seg.path)
			continue
		}
		kept = append(kept, seg)
		total += seg.size
	}

	if s.MaxTotalBytes > 0 && total > s.MaxTotalBytes {
		sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.Before(kept[j].modTime) })
		for _, seg := range kept {
			if total <= s.MaxTotalBytes {
				break
			}
			_ = os.Remove(seg.path)
			total -= seg.size
		}
	}
}

// Close closes the current segment, if any.
func (s *SegmentedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
