package lzx

import (
	"errors"
)

// maxPadWords is the number of zero words a frame may be padded with when the decoder reads past its input.
const maxPadWords = 2

var errOutOfInput = errors.New("out of input bytes")

// bitStream reads the LZX bit order: 16-bit little-endian words, most significant bit first.
type bitStream struct {
	data []byte
	pos  int

	padWords int

	// Currently cached bits
	cachedData uint64
	// Number of bits cached in cachedData
	cacheSize int
}

func newBitStream(data []byte) *bitStream {
	return &bitStream{data: data}
}

func (b *bitStream) ReadBits(c int) (uint32, error) {
	bits, err := b.PeekBits(c)
	if err != nil {
		return 0, err
	}
	b.remove(c)
	return bits, nil
}

func (b *bitStream) PeekBits(c int) (uint32, error) {
	if c > 32 {
		return 0, errors.New("invalid bit read")
	}
	for c > b.cacheSize {
		var word uint64
		if b.pos+2 <= len(b.data) {
			word = uint64(b.data[b.pos+1])<<8 | uint64(b.data[b.pos])
			b.pos += 2
		} else {
			if b.padWords == maxPadWords {
				return 0, errOutOfInput
			}
			b.padWords++
			b.pos = len(b.data)
		}
		b.cachedData = b.cachedData<<16 | word
		b.cacheSize += 16
	}
	result := b.cachedData >> (b.cacheSize - c)
	return uint32(result & (1<<c - 1)), nil
}

func (b *bitStream) remove(c int) {
	b.cacheSize -= c
	b.cachedData = b.cachedData & (1<<b.cacheSize - 1)
}

// Align drops the bits of a partially consumed word.
func (b *bitStream) Align() {
	b.remove(b.cacheSize % 16)
}

// byteAlign moves to the byte stream ahead of an uncompressed block. One to sixteen bits are dropped.
func (b *bitStream) byteAlign() error {
	if b.cacheSize == 0 {
		if _, err := b.ReadBits(16); err != nil {
			return err
		}
	}
	b.cacheSize = 0
	b.cachedData = 0
	return nil
}

// readBytes returns the next n raw bytes. Only valid after byteAlign.
func (b *bitStream) readBytes(n int) ([]byte, error) {
	if n > len(b.data)-b.pos {
		return nil, errOutOfInput
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *bitStream) BitsLeft() int {
	return b.cacheSize
}

// bitWriter is the inverse of bitStream.
type bitWriter struct {
	out   []byte
	acc   uint32
	nbits int
}

func (w *bitWriter) WriteBits(v uint32, c int) {
	for c > 0 {
		take := min(c, 16-w.nbits)
		bits := (v >> (c - take)) & (1<<take - 1)
		w.acc = w.acc<<take | bits
		w.nbits += take
		c -= take
		if w.nbits == 16 {
			w.out = append(w.out, byte(w.acc), byte(w.acc>>8))
			w.acc = 0
			w.nbits = 0
		}
	}
}

// Flush pads the current word with zero bits.
func (w *bitWriter) Flush() {
	if w.nbits > 0 {
		w.WriteBits(0, 16-w.nbits)
	}
}

// byteAlign mirrors bitStream.byteAlign.
func (w *bitWriter) byteAlign() {
	if w.nbits == 0 {
		w.WriteBits(0, 16)
		return
	}
	w.Flush()
}

func (w *bitWriter) writeBytes(p []byte) {
	w.out = append(w.out, p...)
}
