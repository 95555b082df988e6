package cab

import (
	"encoding/binary"
	"hash"
)

// xorWords folds p into seed as little-endian 32-bit words. A trailing partial word is folded in big-endian byte
// order, which is how cabinet writers treat the last bytes of a block.
func xorWords(p []byte, seed uint32) uint32 {
	sum := seed
	for len(p) >= 4 {
		sum ^= binary.LittleEndian.Uint32(p)
		p = p[4:]
	}
	var tail uint32
	for _, b := range p {
		tail = tail<<8 | uint32(b)
	}
	return sum ^ tail
}

// checksum is the CFDATA checksum as a hash.Hash32. Writes are buffered until a full word is available, so the
// result does not depend on how the input is split across calls. Sum32 folds in any buffered tail without
// consuming it, and Flush ends the current segment so the next write starts a new word.
type checksum struct {
	sum     uint32
	pending [4]byte
	n       int
}

var _ hash.Hash32 = (*checksum)(nil)

func (c *checksum) Write(p []byte) (int, error) {
	written := len(p)
	if c.n > 0 {
		k := copy(c.pending[c.n:], p)
		c.n += k
		p = p[k:]
		if c.n < 4 {
			return written, nil
		}
		c.sum = xorWords(c.pending[:], c.sum)
		c.n = 0
	}
	whole := len(p) &^ 3
	c.sum = xorWords(p[:whole], c.sum)
	c.n = copy(c.pending[:], p[whole:])
	return written, nil
}

// Flush folds a buffered partial word into the sum.
func (c *checksum) Flush() {
	c.sum = c.Sum32()
	c.n = 0
}

func (c *checksum) Sum32() uint32 {
	return xorWords(c.pending[:c.n], c.sum)
}

func (c *checksum) Sum(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, c.Sum32())
}

func (c *checksum) Reset() {
	*c = checksum{}
}

func (c *checksum) Size() int { return 4 }

func (c *checksum) BlockSize() int { return 4 }
