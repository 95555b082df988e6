package cab

import (
	"errors"
	"fmt"

	"github.com/secDre4mer/go-mspack/lzx"
	"github.com/secDre4mer/go-mspack/mspack"
	"github.com/secDre4mer/go-mspack/mszip"
)

// Compression methods, stored in the low nibble of a folder's compression type.
const (
	CompressionNone    = 0
	CompressionMSZIP   = 1
	CompressionQuantum = 2
	CompressionLZX     = 3
)

// Folder is one compressed stream holding the data of one or more files.
type Folder struct {
	// CompressionType packs the method (low nibble) and level (bits 8 to 12).
	CompressionType uint16
	ReservedData    []byte

	header  cabinetFileFolderHeader
	cabinet *Cabinet
	blocks  []*dataBlock

	continuedFromPrevious bool
	continuesToNext       bool
}

// Method returns the compression method, one of the Compression constants.
func (f *Folder) Method() int {
	return int(f.CompressionType & 0x0F)
}

// Level returns the compression level. For LZX this is the window size in bits.
func (f *Folder) Level() int {
	return int(f.CompressionType>>8) & 0x1F
}

// NumBlocks returns the number of data blocks of the folder across all linked cabinets.
func (f *Folder) NumBlocks() int {
	return len(f.blocks)
}

// NeedsPrevious reports whether the folder starts in a cabinet that has not been linked yet.
func (f *Folder) NeedsPrevious() bool {
	return f.continuedFromPrevious
}

// NeedsNext reports whether the folder continues in a cabinet that has not been linked yet.
func (f *Folder) NeedsNext() bool {
	return f.continuesToNext
}

// loadedSize returns the number of uncompressed bytes held by complete blocks.
func (f *Folder) loadedSize() int64 {
	var size int64
	for _, block := range f.blocks {
		if !block.complete() {
			break
		}
		size += int64(block.uncompressed())
	}
	return size
}

// files returns the files of set that belong to f.
func (f *Folder) files(set *cabinetSet) []*File {
	var files []*File
	for _, file := range set.files {
		if file.folder == f {
			files = append(files, file)
		}
	}
	return files
}

// dataBlock is one logical CFDATA block. A block split over two cabinets consists of several pieces; only the last
// piece declares the uncompressed size.
type dataBlock struct {
	pieces []dataPiece
}

type dataPiece struct {
	cabinet      *Cabinet
	offset       int64 // absolute offset of the compressed data in the cabinet file
	compressed   int
	uncompressed int
	checksum     uint32
	reserved     []byte
}

func (b *dataBlock) complete() bool {
	return b.pieces[len(b.pieces)-1].uncompressed != 0
}

func (b *dataBlock) uncompressed() int {
	return b.pieces[len(b.pieces)-1].uncompressed
}

func (b *dataBlock) compressed() int {
	n := 0
	for _, piece := range b.pieces {
		n += piece.compressed
	}
	return n
}

// BlockDecoder decodes consecutive data blocks of one folder. out has the block's uncompressed size.
type BlockDecoder interface {
	Decode(in, out []byte) error
}

// BlockEncoder encodes consecutive data blocks of one folder.
type BlockEncoder interface {
	Encode(in []byte) ([]byte, error)
}

type storeDecoder struct {
	sys mspack.System
}

func (s storeDecoder) Decode(in, out []byte) error {
	if len(in) != len(out) {
		return fmt.Errorf("stored block has %d bytes, expected %d", len(in), len(out))
	}
	s.sys.Copy(in, out, len(in))
	return nil
}

type storeEncoder struct{}

func (storeEncoder) Encode(in []byte) ([]byte, error) {
	return append([]byte(nil), in...), nil
}

var errQuantum = errors.New("Quantum compression is not supported")

func newBlockDecoder(sys mspack.System, folder *Folder, fixMSZIP bool) (BlockDecoder, error) {
	switch folder.Method() {
	case CompressionNone:
		return storeDecoder{sys}, nil
	case CompressionMSZIP:
		return &mszip.Decoder{Repair: fixMSZIP}, nil
	case CompressionQuantum:
		return nil, fmt.Errorf("%w: %w", mspack.ErrDecrunch, errQuantum)
	case CompressionLZX:
		decoder, err := lzx.NewDecoder(folder.Level())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", mspack.ErrDataFormat, err)
		}
		return decoder, nil
	default:
		return nil, dataFormatError("unsupported compression format %d", folder.Method())
	}
}

func newBlockEncoder(compressionType uint16, density int) (BlockEncoder, error) {
	switch compressionType & 0x0F {
	case CompressionNone:
		return storeEncoder{}, nil
	case CompressionMSZIP:
		return mszip.NewEncoder(density)
	case CompressionLZX:
		return lzx.NewEncoder(int(compressionType>>8) & 0x1F)
	default:
		return nil, fmt.Errorf("unsupported compression format %d", compressionType&0x0F)
	}
}
