package cab

import (
	"errors"
	"fmt"
	"io"

	"github.com/secDre4mer/go-mspack/mspack"
	"github.com/secDre4mer/go-mspack/mszip"
)

// Extract decodes file and writes its data to dest, which is created or truncated through the System.
// If the file's folder spans cabinets that have not been linked, Extract fails with mspack.ErrMissingParts
// before dest is opened.
func (d *Decompressor) Extract(file *File, dest string) error {
	name := ""
	if file != nil {
		name = file.Name
	}
	return d.finish("extract", name, d.extract(file, dest), mspack.ErrDecrunch)
}

func (d *Decompressor) extract(file *File, dest string) error {
	if err := d.checkFile(file); err != nil {
		return err
	}
	stream, err := d.folderStreamAt(file)
	if err != nil {
		return err
	}
	if err := stream.init(); err != nil {
		d.dropStream()
		return err
	}

	h, err := d.sys.Open(dest, mspack.OpenWrite)
	if err != nil {
		return mspack.NewError(mspack.ErrOpen, "open", dest, err)
	}
	err = stream.copyTo(func(p []byte) error {
		n, err := d.sys.Write(h, p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return mspack.NewError(mspack.ErrWrite, "write", dest, err)
		}
		return nil
	}, int64(file.Length))
	closeErr := d.sys.Close(h)
	if err != nil {
		d.dropStream()
		return err
	}
	if closeErr != nil {
		return mspack.NewError(mspack.ErrWrite, "close", dest, closeErr)
	}
	return nil
}

// OpenFile returns a reader for the data of file. It uses its own decoding state, so several readers may be open
// at once; they must not be used concurrently.
func (d *Decompressor) OpenFile(file *File) (io.ReadCloser, error) {
	r, err := d.openFile(file)
	if err != nil {
		name := ""
		if file != nil {
			name = file.Name
		}
		return nil, d.finish("open_file", name, err, mspack.ErrDecrunch)
	}
	d.lastError = mspack.OK
	return r, nil
}

func (d *Decompressor) openFile(file *File) (io.ReadCloser, error) {
	if err := d.checkFile(file); err != nil {
		return nil, err
	}
	stream := newFolderStream(d, file.folder)
	if err := stream.skipTo(int64(file.Offset)); err != nil {
		stream.close()
		return nil, err
	}
	return &fileReader{stream: stream, remaining: int64(file.Length)}, nil
}

// checkFile verifies that all data of file is available.
func (d *Decompressor) checkFile(file *File) error {
	if file == nil || file.folder == nil || file.cabinet == nil {
		return fmt.Errorf("%w: invalid file", mspack.ErrArgs)
	}
	if err := d.checkCabinet(file.cabinet); err != nil {
		return err
	}
	folder := file.folder
	if folder.continuedFromPrevious {
		return fmt.Errorf("%w: file %q starts in a previous cabinet", mspack.ErrMissingParts, file.Name)
	}
	end := uint64(file.Offset) + uint64(file.Length)
	if end > uint64(folder.NumBlocks())*blockMax || end > uint64(folder.loadedSize()) {
		return fmt.Errorf("%w: file %q continues in a cabinet that is not linked", mspack.ErrMissingParts, file.Name)
	}
	return nil
}

// folderStreamAt returns the decompressor's stream positioned at the start of file, reusing the current stream
// when file comes later in the same folder.
func (d *Decompressor) folderStreamAt(file *File) (*folderStream, error) {
	if d.stream != nil && (d.stream.folder != file.folder || d.stream.offset > int64(file.Offset)) {
		d.dropStream()
	}
	if d.stream == nil {
		d.stream = newFolderStream(d, file.folder)
	}
	if err := d.stream.skipTo(int64(file.Offset)); err != nil {
		d.dropStream()
		return nil, err
	}
	return d.stream, nil
}

func (d *Decompressor) dropStream() {
	if d.stream != nil {
		d.stream.close()
		d.stream = nil
	}
}

// folderStream decodes the blocks of a folder in order.
type folderStream struct {
	sys      mspack.System
	folder   *Folder
	fixMSZIP bool
	bufSize  int

	decoder BlockDecoder
	block   int
	// offset is the uncompressed position of pending[0] within the folder.
	offset  int64
	pending []byte

	handles map[string]mspack.Handle
	input   []byte
	output  []byte
	chunk   []byte
}

func newFolderStream(d *Decompressor, folder *Folder) *folderStream {
	return &folderStream{
		sys:      d.sys,
		folder:   folder,
		fixMSZIP: d.fixMSZIP,
		bufSize:  d.decompressionBuffer,
		handles:  map[string]mspack.Handle{},
	}
}

func (s *folderStream) init() error {
	if s.decoder != nil {
		return nil
	}
	decoder, err := newBlockDecoder(s.sys, s.folder, s.fixMSZIP)
	if err != nil {
		return err
	}
	s.input = s.sys.Alloc(inputMax)
	s.output = s.sys.Alloc(blockMax)
	s.chunk = s.sys.Alloc(s.bufSize)
	if s.input == nil || s.output == nil || s.chunk == nil {
		return fmt.Errorf("%w: decompression buffers", mspack.ErrNoMemory)
	}
	s.decoder = decoder
	return nil
}

func (s *folderStream) handle(cab *Cabinet) (mspack.Handle, error) {
	if h, ok := s.handles[cab.Filename]; ok {
		return h, nil
	}
	h, err := s.sys.Open(cab.Filename, mspack.OpenRead)
	if err != nil {
		return nil, mspack.NewError(mspack.ErrOpen, "open", cab.Filename, err)
	}
	s.handles[cab.Filename] = h
	return h, nil
}

// nextBlock decodes the next data block into pending.
func (s *folderStream) nextBlock() error {
	if err := s.init(); err != nil {
		return err
	}
	if s.block >= len(s.folder.blocks) {
		return fmt.Errorf("%w: read past the end of the folder", mspack.ErrDataFormat)
	}
	block := s.folder.blocks[s.block]
	if !block.complete() {
		return fmt.Errorf("%w: data block continues in a cabinet that is not linked", mspack.ErrMissingParts)
	}
	if block.compressed() > inputMax {
		return dataFormatError("data block of %d bytes exceeds %d", block.compressed(), inputMax)
	}
	n := 0
	for _, piece := range block.pieces {
		h, err := s.handle(piece.cabinet)
		if err != nil {
			return err
		}
		data := s.input[n : n+piece.compressed]
		if err := readPiece(s.sys, h, piece, data, s.chunk); err != nil {
			return err
		}
		if err := verifyPiece(piece, data); err != nil {
			if !s.fixMSZIP || s.folder.Method() != CompressionMSZIP {
				return err
			}
			s.sys.Message(h, "WARNING; %v", err)
		}
		n += piece.compressed
	}

	out := s.output[:block.uncompressed()]
	if err := s.decoder.Decode(s.input[:n], out); err != nil {
		if !errors.Is(err, mszip.ErrRepaired) {
			var c mspack.Code
			if errors.As(err, &c) {
				return err
			}
			return fmt.Errorf("%w: block %d: %w", mspack.ErrDecrunch, s.block, err)
		}
		s.sys.Message(nil, "MSZIP error, %v", err)
	}
	s.block++
	s.pending = out
	return nil
}

// skipTo decodes and discards data up to the uncompressed folder offset off.
func (s *folderStream) skipTo(off int64) error {
	for s.offset+int64(len(s.pending)) <= off {
		s.offset += int64(len(s.pending))
		s.pending = nil
		if s.offset == off {
			return nil
		}
		if err := s.nextBlock(); err != nil {
			return err
		}
	}
	skip := off - s.offset
	s.pending = s.pending[skip:]
	s.offset = off
	return nil
}

// read returns up to max decoded bytes, decoding the next block if needed. The slice is valid until the next call.
func (s *folderStream) read(max int64) ([]byte, error) {
	if len(s.pending) == 0 {
		if err := s.nextBlock(); err != nil {
			return nil, err
		}
	}
	n := min(int64(len(s.pending)), max)
	p := s.pending[:n]
	s.pending = s.pending[n:]
	s.offset += n
	return p, nil
}

func (s *folderStream) copyTo(write func([]byte) error, length int64) error {
	for length > 0 {
		p, err := s.read(length)
		if err != nil {
			return err
		}
		if err := write(p); err != nil {
			return err
		}
		length -= int64(len(p))
	}
	return nil
}

func (s *folderStream) close() {
	for _, h := range s.handles {
		s.sys.Close(h)
	}
	s.handles = nil
	for _, buf := range [][]byte{s.input, s.output, s.chunk} {
		if buf != nil {
			s.sys.Free(buf)
		}
	}
	s.input, s.output, s.chunk, s.pending = nil, nil, nil, nil
	s.decoder = nil
}

type fileReader struct {
	stream    *folderStream
	remaining int64
}

func (r *fileReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if r.stream == nil {
		return 0, errors.New("read from closed file")
	}
	if r.stream.folder.cabinet.closed {
		return 0, fmt.Errorf("%w: cabinet is closed", mspack.ErrArgs)
	}
	data, err := r.stream.read(min(int64(len(p)), r.remaining))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	r.remaining -= int64(n)
	return n, nil
}

func (r *fileReader) Close() error {
	if r.stream != nil {
		r.stream.close()
		r.stream = nil
	}
	return nil
}
