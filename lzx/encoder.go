package lzx

import (
	"encoding/binary"
	"fmt"
)

// Encoder produces LZX frames without match finding: every frame is a single verbatim block of literals, or a
// single uncompressed block when Uncompressed is set.
type Encoder struct {
	// Uncompressed selects uncompressed blocks instead of literal-coded verbatim blocks.
	Uncompressed bool
	// IntelFileSize enables E8 call translation with the given translation size when non-zero.
	IntelFileSize int32

	numSlots      int
	headerWritten bool
	literalsSet   bool
	padPending    bool
	intel         intelTranslator
	frame         int
}

func NewEncoder(windowBits int) (*Encoder, error) {
	if err := checkWindowBits(windowBits); err != nil {
		return nil, err
	}
	return &Encoder{numSlots: positionSlots[windowBits-MinWindowBits]}, nil
}

// Encode compresses one frame.
func (e *Encoder) Encode(in []byte) ([]byte, error) {
	if len(in) == 0 || len(in) > FrameSize {
		return nil, fmt.Errorf("invalid frame size %d", len(in))
	}
	var w bitWriter
	if e.padPending {
		w.writeBytes([]byte{0})
		e.padPending = false
	}
	if !e.headerWritten {
		if e.IntelFileSize != 0 {
			w.WriteBits(1, 1)
			w.WriteBits(uint32(e.IntelFileSize)>>16, 16)
			w.WriteBits(uint32(e.IntelFileSize)&0xFFFF, 16)
			e.intel.fileSize = e.IntelFileSize
		} else {
			w.WriteBits(0, 1)
		}
		e.headerWritten = true
	}

	data := in
	if e.IntelFileSize != 0 {
		// Both block kinds mark the translation as started in the decoder.
		e.intel.started = true
		data = append([]byte(nil), in...)
		e.intel.untranslate(data, e.frame)
	}
	e.frame++

	if e.Uncompressed {
		e.encodeUncompressed(&w, data)
	} else {
		e.encodeLiterals(&w, data)
	}
	return w.out, nil
}

func (e *Encoder) writeBlockHeader(w *bitWriter, block blocktype, length int) {
	w.WriteBits(uint32(block), 3)
	w.WriteBits(uint32(length)>>8, 16)
	w.WriteBits(uint32(length)&0xFF, 8)
}

func (e *Encoder) encodeUncompressed(w *bitWriter, data []byte) {
	e.writeBlockHeader(w, uncompressed, len(data))
	w.byteAlign()
	var repeats [12]byte
	binary.LittleEndian.PutUint32(repeats[0:], 1)
	binary.LittleEndian.PutUint32(repeats[4:], 1)
	binary.LittleEndian.PutUint32(repeats[8:], 1)
	w.writeBytes(repeats[:])
	w.writeBytes(data)
	e.padPending = len(data)&1 == 1
}

// The pretree used for every length list has two one-bit codes: 0 (keep the previous length) and 9, which turns a
// previous length of 0 into 8.
const literalDelta = 9

func writePreTree(w *bitWriter) {
	for i := 0; i < preTreeSize; i++ {
		if i == 0 || i == literalDelta {
			w.WriteBits(1, preTreeLengthBits)
		} else {
			w.WriteBits(0, preTreeLengthBits)
		}
	}
}

func writeDeltas(w *bitWriter, count int, delta uint32) {
	bit := uint32(0)
	if delta == literalDelta {
		bit = 1
	}
	for i := 0; i < count; i++ {
		w.WriteBits(bit, 1)
	}
}

func (e *Encoder) encodeLiterals(w *bitWriter, data []byte) {
	e.writeBlockHeader(w, verbatim, len(data))

	delta := uint32(0)
	if !e.literalsSet {
		delta = literalDelta
		e.literalsSet = true
	}
	writePreTree(w)
	writeDeltas(w, numChars, delta)
	writePreTree(w)
	writeDeltas(w, e.numSlots*8, 0)
	writePreTree(w)
	writeDeltas(w, numSecondaryLengths, 0)

	// With all literal lengths at 8 the canonical code of a literal is its own value.
	for _, b := range data {
		w.WriteBits(uint32(b), 8)
	}
	w.Flush()
}
