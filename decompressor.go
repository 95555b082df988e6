package cab

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/secDre4mer/go-mspack/mspack"
)

// Param selects a tunable of a Decompressor.
type Param int

const (
	// ParamSearchBuffer is the size of the buffer Search scans with.
	ParamSearchBuffer Param = iota
	// ParamFixMSZIP, when 1, recovers from damaged MS-ZIP blocks instead of failing extraction.
	ParamFixMSZIP
	// ParamDecompressionBuffer is the size of the input buffer data blocks are read through.
	ParamDecompressionBuffer
)

const (
	defaultSearchBuffer        = 32768
	minSearchBuffer            = headerSize
	defaultDecompressionBuffer = 4096
	minDecompressionBuffer     = 4
)

// Decompressor opens, links and extracts cabinets. It is not safe for concurrent use.
type Decompressor struct {
	sys mspack.System

	searchBuffer        int
	fixMSZIP            bool
	decompressionBuffer int

	lastError mspack.Code
	stream    *folderStream
}

// NewDecompressor returns a Decompressor working through sys. A nil sys selects a new mspack.FileSystem.
func NewDecompressor(sys mspack.System) *Decompressor {
	if sys == nil {
		sys = mspack.NewFileSystem()
	}
	return &Decompressor{
		sys:                 sys,
		searchBuffer:        defaultSearchBuffer,
		decompressionBuffer: defaultDecompressionBuffer,
	}
}

// System returns the substrate the Decompressor works through.
func (d *Decompressor) System() mspack.System {
	return d.sys
}

// LastError returns the code of the last completed operation.
func (d *Decompressor) LastError() mspack.Code {
	return d.lastError
}

// finish records the outcome of an operation and wraps err with the operation and file name.
func (d *Decompressor) finish(op, name string, err error, fallback mspack.Code) error {
	d.lastError, err = wrapOperation(op, name, err, fallback)
	return err
}

// wrapOperation classifies err and wraps it into an *mspack.Error for op. Errors without a code get fallback.
func wrapOperation(op, name string, err error, fallback mspack.Code) (mspack.Code, error) {
	if err == nil {
		return mspack.OK, nil
	}
	var e *mspack.Error
	if errors.As(err, &e) && e.Op == op {
		return e.Code, err
	}
	code := fallback
	var c mspack.Code
	switch {
	case errors.As(err, &e):
		code = e.Code
	case errors.As(err, &c):
		code = c
	}
	return code, mspack.NewError(code, op, name, err)
}

func (d *Decompressor) SetParam(param Param, value int) error {
	var err error
	switch param {
	case ParamSearchBuffer:
		if value < minSearchBuffer {
			err = fmt.Errorf("search buffer must be at least %d bytes", minSearchBuffer)
			break
		}
		d.searchBuffer = value
	case ParamFixMSZIP:
		if value != 0 && value != 1 {
			err = errors.New("fix MS-ZIP must be 0 or 1")
			break
		}
		if d.fixMSZIP != (value == 1) {
			d.dropStream()
		}
		d.fixMSZIP = value == 1
	case ParamDecompressionBuffer:
		if value < minDecompressionBuffer {
			err = fmt.Errorf("decompression buffer must be at least %d bytes", minDecompressionBuffer)
			break
		}
		if d.decompressionBuffer != value {
			d.dropStream()
		}
		d.decompressionBuffer = value
	default:
		err = fmt.Errorf("unknown parameter %d", param)
	}
	return d.finish("set_param", "", err, mspack.ErrArgs)
}

// Param returns the current value of a tunable, or -1 for unknown parameters.
func (d *Decompressor) Param(param Param) int {
	switch param {
	case ParamSearchBuffer:
		return d.searchBuffer
	case ParamFixMSZIP:
		if d.fixMSZIP {
			return 1
		}
		return 0
	case ParamDecompressionBuffer:
		return d.decompressionBuffer
	}
	return -1
}

// Open parses the cabinet at the start of name, including its full directory.
func (d *Decompressor) Open(name string) (*Cabinet, error) {
	cab, err := d.open(name)
	return cab, d.finish("open", name, err, mspack.ErrRead)
}

func (d *Decompressor) open(name string) (*Cabinet, error) {
	h, err := d.sys.Open(name, mspack.OpenRead)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mspack.ErrOpen, err)
	}
	defer d.sys.Close(h)
	size, err := fileSize(d.sys, h)
	if err != nil {
		return nil, err
	}
	cab, err := readCabinet(d.sys, h, parseOptions{name: name, size: size})
	if err != nil {
		return nil, err
	}
	cab.owner = d
	return cab, nil
}

// Search scans name for embedded cabinets. Every candidate that parses is returned, chained through
// Cabinet.Next. Finding nothing is not an error: the result is nil and LastError is mspack.OK.
// Only the returned head may be passed to Close.
func (d *Decompressor) Search(name string) (*Cabinet, error) {
	head, err := d.search(name)
	return head, d.finish("search", name, err, mspack.ErrRead)
}

func (d *Decompressor) search(name string) (*Cabinet, error) {
	h, err := d.sys.Open(name, mspack.OpenRead)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mspack.ErrOpen, err)
	}
	defer d.sys.Close(h)
	size, err := fileSize(d.sys, h)
	if err != nil {
		return nil, err
	}
	buffer := d.sys.Alloc(d.searchBuffer)
	if buffer == nil {
		return nil, fmt.Errorf("%w: search buffer", mspack.ErrNoMemory)
	}
	defer d.sys.Free(buffer)

	var head, tail *Cabinet
	release := func() {
		for cab := head; cab != nil; cab = cab.searchNext {
			cab.release()
		}
	}
	reader := handleReader{d.sys, h}
	overlap := len(signature) - 1
	for offset := int64(0); offset < size; {
		n, err := reader.ReadAt(buffer[:min(int64(len(buffer)), size-offset)], offset)
		if err != nil && err != io.EOF {
			release()
			return nil, fmt.Errorf("%w: %w", mspack.ErrRead, err)
		}
		if n == 0 {
			break
		}
		chunk := buffer[:n]
		for pos := 0; ; {
			hit := bytes.Index(chunk[pos:], signature[:])
			if hit < 0 {
				break
			}
			base := offset + int64(pos+hit)
			pos += hit + 1
			cab, err := readCabinet(d.sys, h, parseOptions{name: name, base: base, size: size, quiet: true})
			if err != nil {
				if mspack.CodeOf(err) == mspack.ErrSeek {
					release()
					return nil, err
				}
				continue
			}
			if base+cab.Length > size {
				d.sys.Message(h, "WARNING; cabinet is truncated")
			}
			cab.owner = d
			if head == nil {
				head = cab
			} else {
				tail.searchNext = cab
			}
			tail = cab
		}
		if offset+int64(n) >= size {
			break
		}
		// Keep the last bytes so a signature crossing the chunk boundary is found.
		offset += int64(max(n-overlap, 1))
	}
	for cab := head; cab != nil; cab = cab.searchNext {
		cab.searchHead = head
	}
	return head, nil
}

// Close releases cab and everything reachable from it: every part linked with it and, for the head of a Search
// result, every cabinet of the chain. Closing a cabinet twice, a cabinet of another Decompressor or a member of a
// Search chain other than its head fails with mspack.ErrArgs.
func (d *Decompressor) Close(cab *Cabinet) error {
	name := ""
	if cab != nil {
		name = cab.Filename
	}
	return d.finish("close", name, d.close(cab), mspack.ErrArgs)
}

func (d *Decompressor) close(cab *Cabinet) error {
	if err := d.checkCabinet(cab); err != nil {
		return err
	}
	closure := map[*Cabinet]bool{}
	pending := []*Cabinet{cab}
	for len(pending) > 0 {
		c := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if closure[c] {
			continue
		}
		closure[c] = true
		pending = append(pending, c.set.members...)
		if c.searchHead == c {
			for member := c.searchNext; member != nil; member = member.searchNext {
				pending = append(pending, member)
			}
		}
	}
	for c := range closure {
		if c.searchHead != nil && !closure[c.searchHead] {
			return errors.New("cabinet is part of a search result; close the head of the result instead")
		}
	}
	for c := range closure {
		if d.stream != nil && d.stream.folder.cabinet.set == c.set {
			d.stream.close()
			d.stream = nil
		}
		c.release()
	}
	return nil
}

func (c *Cabinet) release() {
	c.closed = true
	if c.set != nil {
		c.set.files = nil
		c.set.folders = nil
	}
}

// checkCabinet verifies that cab can be used with d.
func (d *Decompressor) checkCabinet(cab *Cabinet) error {
	switch {
	case cab == nil:
		return fmt.Errorf("%w: nil cabinet", mspack.ErrArgs)
	case cab.owner != d:
		return fmt.Errorf("%w: cabinet belongs to another decompressor", mspack.ErrArgs)
	case cab.closed:
		return fmt.Errorf("%w: cabinet is closed", mspack.ErrArgs)
	}
	return nil
}
