// Package mszip implements the MS-ZIP block codec: every block is "CK" followed by a deflate stream that may refer
// back to the previous 32KiB of output.
package mszip

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

const maxWindow = 1 << 15 // Maximum size of a DEFLATE window

// ErrRepaired is returned by a repairing Decoder when a block could not be fully decoded and its tail was filled
// with zeros.
var ErrRepaired = errors.New("block repaired")

var errBadHeader = errors.New("invalid MS-ZIP header")

// Decoder decodes consecutive blocks of one folder.
type Decoder struct {
	// Repair zero-fills blocks that fail to decode instead of failing.
	Repair bool

	history []byte
}

func checkBlockHeader(block []byte) error {
	if len(block) < 2 || block[0] != 0x43 || block[1] != 0x4B {
		return errBadHeader
	}
	return nil
}

// Decode decodes one block into out, which must have the block's uncompressed size.
func (d *Decoder) Decode(in, out []byte) error {
	n, err := d.decode(in, out)
	if err != nil {
		if !d.Repair {
			return err
		}
		clear(out[n:])
		d.remember(out)
		return fmt.Errorf("%w: %d bytes of data lost: %v", ErrRepaired, len(out)-n, err)
	}
	d.remember(out)
	return nil
}

func (d *Decoder) decode(in, out []byte) (int, error) {
	if err := checkBlockHeader(in); err != nil {
		return 0, err
	}
	r := flate.NewReaderDict(bytes.NewReader(in[2:]), d.history)
	defer r.Close()
	n, err := io.ReadFull(r, out)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = fmt.Errorf("block decoded to %d bytes, expected %d", n, len(out))
	}
	return n, err
}

// remember keeps up to 32KiB of the most recent output.
func (d *Decoder) remember(data []byte) {
	if len(data) >= maxWindow {
		if len(d.history) != maxWindow {
			d.history = make([]byte, maxWindow)
		}
		copy(d.history, data[len(data)-maxWindow:])
		return
	}
	d.history = append(d.history, data...)
	if len(d.history) > maxWindow {
		d.history = d.history[len(d.history)-maxWindow:]
	}
}

// Reset drops the carried history.
func (d *Decoder) Reset() {
	d.history = nil
}

// Encoder produces MS-ZIP blocks. Every block is encoded with the previous block's output as dictionary.
type Encoder struct {
	// Level is the deflate level, 1 to 9.
	Level int

	history []byte
}

func NewEncoder(level int) (*Encoder, error) {
	if level < flate.BestSpeed || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid deflate level %d", level)
	}
	return &Encoder{Level: level}, nil
}

// Encode compresses one block of at most 32KiB.
func (e *Encoder) Encode(in []byte) ([]byte, error) {
	if len(in) > maxWindow {
		return nil, fmt.Errorf("block of %d bytes exceeds %d", len(in), maxWindow)
	}
	var buf bytes.Buffer
	buf.WriteString("CK")
	w, err := flate.NewWriterDict(&buf, e.Level, e.history)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	d := Decoder{history: e.history}
	d.remember(in)
	e.history = d.history
	return buf.Bytes(), nil
}
