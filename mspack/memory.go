package mspack

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"
)

// MemorySystem is a System whose files live in memory. Messages are recorded instead of logged.
type MemorySystem struct {
	// AllocLimit caps the bytes held by outstanding Alloc buffers. Zero means no cap.
	AllocLimit int

	mu        sync.Mutex
	files     map[string][]byte
	messages  []string
	allocated int
	open      int
}

func NewMemorySystem() *MemorySystem {
	return &MemorySystem{files: make(map[string][]byte)}
}

type memHandle struct {
	name   string
	mode   OpenMode
	pos    int64
	closed bool
}

func (h *memHandle) Name() string { return h.name }

// WriteFile stores data under name, replacing any previous content.
func (m *MemorySystem) WriteFile(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.files[name] = append([]byte(nil), data...)
}

// ReadFile returns a copy of the named file.
func (m *MemorySystem) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether name is present.
func (m *MemorySystem) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

func (m *MemorySystem) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
}

// Names lists the stored files in lexical order.
func (m *MemorySystem) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Messages returns every message reported so far.
func (m *MemorySystem) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// OpenHandles returns the number of handles that were opened and not closed yet.
func (m *MemorySystem) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *MemorySystem) init() {
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
}

func (m *MemorySystem) handle(h Handle) (*memHandle, error) {
	mh, ok := h.(*memHandle)
	if !ok || mh == nil {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	if mh.closed {
		return nil, fs.ErrClosed
	}
	return mh, nil
}

func (m *MemorySystem) Open(name string, mode OpenMode) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	data, exists := m.files[name]
	switch mode {
	case OpenRead, OpenUpdate:
		if !exists {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
	case OpenWrite:
		m.files[name] = nil
	case OpenAppend:
		if !exists {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		m.open++
		return &memHandle{name: name, mode: mode, pos: int64(len(data))}, nil
	default:
		return nil, fmt.Errorf("invalid open mode %d", mode)
	}
	m.open++
	return &memHandle{name: name, mode: mode}, nil
}

func (m *MemorySystem) Close(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mh, err := m.handle(h)
	if err != nil {
		return err
	}
	mh.closed = true
	m.open--
	return nil
}

func (m *MemorySystem) Read(h Handle, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mh, err := m.handle(h)
	if err != nil {
		return 0, err
	}
	if mh.mode == OpenWrite || mh.mode == OpenAppend {
		return 0, errors.New("handle not open for reading")
	}
	data := m.files[mh.name]
	if mh.pos >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[mh.pos:])
	mh.pos += int64(n)
	return n, nil
}

func (m *MemorySystem) Write(h Handle, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mh, err := m.handle(h)
	if err != nil {
		return 0, err
	}
	if mh.mode == OpenRead {
		return 0, errors.New("handle not open for writing")
	}
	data := m.files[mh.name]
	if mh.mode == OpenAppend {
		mh.pos = int64(len(data))
	}
	end := mh.pos + int64(len(p))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[mh.pos:], p)
	m.files[mh.name] = data
	mh.pos = end
	return len(p), nil
}

func (m *MemorySystem) Seek(h Handle, offset int64, whence Whence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mh, err := m.handle(h)
	if err != nil {
		return err
	}
	var base int64
	switch whence {
	case SeekStart:
	case SeekCurrent:
		base = mh.pos
	case SeekEnd:
		base = int64(len(m.files[mh.name]))
	default:
		return errors.New("invalid whence")
	}
	if base+offset < 0 {
		return errors.New("negative position")
	}
	mh.pos = base + offset
	return nil
}

func (m *MemorySystem) Tell(h Handle) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mh, err := m.handle(h)
	if err != nil {
		return 0, err
	}
	return mh.pos, nil
}

func (m *MemorySystem) Message(h Handle, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if name := HandleName(h); name != "" {
		msg = name + ": " + msg
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *MemorySystem) Alloc(n int) []byte {
	if n < 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AllocLimit > 0 && m.allocated+n > m.AllocLimit {
		return nil
	}
	m.allocated += n
	return make([]byte, n)
}

func (m *MemorySystem) Free(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocated -= cap(b)
	if m.allocated < 0 {
		m.allocated = 0
	}
}

func (m *MemorySystem) Copy(src, dst []byte, n int) {
	copy(dst[:n], src[:n])
}
