package cab

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/secDre4mer/go-mspack/mspack"
)

type checksumlessEntry struct {
	CompressedBytes   uint16
	UncompressedBytes uint16
}

// blockChecksum computes the CFDATA checksum: the data first, then the header fields following the checksum.
func blockChecksum(data []byte, compressed, uncompressed int) uint32 {
	var sum checksum
	sum.Write(data)
	sum.Flush()
	binary.Write(&sum, binary.LittleEndian, checksumlessEntry{
		uint16(compressed),
		uint16(uncompressed),
	})
	return sum.Sum32()
}

// verifyPiece checks the stored checksum of a piece, if it has one.
func verifyPiece(piece dataPiece, data []byte) error {
	if piece.checksum == 0 {
		return nil // No checksum set for this entry
	}
	if sum := blockChecksum(data, piece.compressed, piece.uncompressed); sum != piece.checksum {
		return fmt.Errorf("%w: checksum mismatch at offset %d of %s (%08x != %08x)", mspack.ErrChecksum,
			piece.offset, piece.cabinet.Filename, sum, piece.checksum)
	}
	return nil
}

// readPiece reads the compressed bytes of piece into dst through chunk, which bounds the size of every substrate
// read.
func readPiece(sys mspack.System, h mspack.Handle, piece dataPiece, dst, chunk []byte) error {
	if err := sys.Seek(h, piece.offset, mspack.SeekStart); err != nil {
		return mspack.NewError(mspack.ErrSeek, "seek", piece.cabinet.Filename, err)
	}
	n := 0
	for n < piece.compressed {
		want := min(len(chunk), piece.compressed-n)
		m, err := sys.Read(h, chunk[:want])
		if m > 0 {
			sys.Copy(chunk, dst[n:], m)
			n += m
		}
		switch {
		case err == io.EOF && n < piece.compressed:
			return fmt.Errorf("%w: %s is truncated", mspack.ErrRead, piece.cabinet.Filename)
		case err != nil && err != io.EOF:
			return fmt.Errorf("%w: %w", mspack.ErrRead, err)
		case m == 0 && err == nil:
			return fmt.Errorf("%w: %w", mspack.ErrRead, io.ErrNoProgress)
		}
	}
	return nil
}
