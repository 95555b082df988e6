package cab

import (
	"fmt"
	"io"

	"github.com/secDre4mer/go-mspack/mspack"
)

// sourceReader reads an input file through the System. The file is opened on the first read.
type sourceReader struct {
	sys    mspack.System
	name   string
	h      mspack.Handle
	opened bool
}

func (s *sourceReader) Read(b []byte) (int, error) {
	if !s.opened {
		h, err := s.sys.Open(s.name, mspack.OpenRead)
		if err != nil {
			return 0, mspack.NewError(mspack.ErrOpen, "open", s.name, err)
		}
		s.h, s.opened = h, true
	}
	n, err := s.sys.Read(s.h, b)
	if err != nil && err != io.EOF {
		return n, mspack.NewError(mspack.ErrRead, "read", s.name, err)
	}
	return n, err
}

func (s *sourceReader) Close() error {
	if !s.opened {
		return nil
	}
	s.opened = false
	return s.sys.Close(s.h)
}

// multiReader is an equivalent of io.MultiReader over the sources of a folder. Each source is closed as soon as it
// is drained.
type multiReader struct {
	readers []io.ReadCloser
}

func newMultiReader(sys mspack.System, files []*plannedFile) *multiReader {
	readers := make([]io.ReadCloser, 0, len(files))
	for _, file := range files {
		readers = append(readers, &sourceReader{sys: sys, name: file.source})
	}
	return &multiReader{readers: readers}
}

func (t *multiReader) Read(b []byte) (n int, err error) {
	for len(t.readers) > 0 {
		reader := t.readers[0]
		n, err = reader.Read(b)
		if err == io.EOF {
			t.readers = t.readers[1:]
			if err := reader.Close(); err != nil {
				return n, fmt.Errorf("%w: %w", mspack.ErrRead, err)
			}
			if n == 0 { // We must not return 0 bytes with no error, try reading from next reader
				continue
			}
			return n, nil
		}
		return n, err
	}
	return n, io.EOF
}

func (t *multiReader) Close() (err error) {
	for _, reader := range t.readers {
		if readerErr := reader.Close(); readerErr != nil && err == nil {
			err = readerErr
		}
	}
	t.readers = nil
	return
}
