package mspack

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// FileSystem is the default System: files come from the operating system, messages go to a slog.Logger and
// memory comes from the Go heap.
type FileSystem struct {
	// Logger receives Message output. Nil means slog.Default().
	Logger *slog.Logger
	// MaxAlloc caps the bytes held by outstanding Alloc buffers. Zero means no cap.
	MaxAlloc int64

	allocated atomic.Int64
}

// NewFileSystem returns a FileSystem logging to slog.Default().
func NewFileSystem() *FileSystem {
	return &FileSystem{}
}

type osHandle struct {
	*os.File
	name string
}

func (h *osHandle) Name() string { return h.name }

func (s *FileSystem) handle(h Handle) (*osHandle, error) {
	oh, ok := h.(*osHandle)
	if !ok || oh == nil {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	return oh, nil
}

func (s *FileSystem) Open(name string, mode OpenMode) (Handle, error) {
	var flag int
	switch mode {
	case OpenRead:
		flag = os.O_RDONLY
	case OpenWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case OpenUpdate:
		flag = os.O_RDWR
	case OpenAppend:
		flag = os.O_WRONLY | os.O_APPEND
	default:
		return nil, fmt.Errorf("invalid open mode %d", mode)
	}
	f, err := os.OpenFile(name, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &osHandle{File: f, name: name}, nil
}

func (s *FileSystem) Close(h Handle) error {
	oh, err := s.handle(h)
	if err != nil {
		return err
	}
	return oh.File.Close()
}

func (s *FileSystem) Read(h Handle, p []byte) (int, error) {
	oh, err := s.handle(h)
	if err != nil {
		return 0, err
	}
	return oh.File.Read(p)
}

func (s *FileSystem) Write(h Handle, p []byte) (int, error) {
	oh, err := s.handle(h)
	if err != nil {
		return 0, err
	}
	return oh.File.Write(p)
}

func (s *FileSystem) Seek(h Handle, offset int64, whence Whence) error {
	oh, err := s.handle(h)
	if err != nil {
		return err
	}
	var w int
	switch whence {
	case SeekStart:
		w = io.SeekStart
	case SeekCurrent:
		w = io.SeekCurrent
	case SeekEnd:
		w = io.SeekEnd
	default:
		return errors.New("invalid whence")
	}
	_, err = oh.File.Seek(offset, w)
	return err
}

func (s *FileSystem) Tell(h Handle) (int64, error) {
	oh, err := s.handle(h)
	if err != nil {
		return 0, err
	}
	return oh.File.Seek(0, io.SeekCurrent)
}

func (s *FileSystem) Message(h Handle, format string, args ...any) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msg := fmt.Sprintf(format, args...)
	if name := HandleName(h); name != "" {
		logger.Warn(msg, "file", name)
		return
	}
	logger.Warn(msg)
}

func (s *FileSystem) Alloc(n int) []byte {
	if n < 0 {
		return nil
	}
	if s.MaxAlloc > 0 && s.allocated.Add(int64(n)) > s.MaxAlloc {
		s.allocated.Add(-int64(n))
		return nil
	}
	return make([]byte, n)
}

func (s *FileSystem) Free(b []byte) {
	if s.MaxAlloc > 0 {
		s.allocated.Add(-int64(cap(b)))
	}
}

func (s *FileSystem) Copy(src, dst []byte, n int) {
	copy(dst[:n], src[:n])
}
