// Package lzx implements the LZX block codec as used in cabinet folders. Each call to Decoder.Decode consumes the
// compressed data of one output frame of at most 32KiB.
package lzx

import (
	"errors"
	"fmt"
)

const (
	// FrameSize is the uncompressed size of every frame except the last one of a stream.
	FrameSize = 32768

	MinWindowBits = 15
	MaxWindowBits = 21

	minMatch            = 2
	numChars            = 256
	numPrimaryLengths   = 7
	numSecondaryLengths = 249

	preTreeSize           = 20
	preTreeLengthBits     = 4
	alignedTreeSize       = 8
	alignedTreeLengthBits = 3

	maxMainTreeSize = numChars + 50*8

	// E8 translation stops after this many frames
	intelFrameLimit = 32768
)

type blocktype int

const (
	verbatim     blocktype = 1
	aligned      blocktype = 2
	uncompressed blocktype = 3
)

// positionSlots holds the number of position slots for window sizes of 2^15 to 2^21.
var positionSlots = [...]int{30, 32, 34, 36, 38, 42, 50}

var (
	extraBits    [52]int
	positionBase [52]uint32
)

func init() {
	j := 0
	for i := 0; i < 51; i += 2 {
		extraBits[i] = j
		extraBits[i+1] = j
		if i != 0 && j < 17 {
			j++
		}
	}
	var base uint32
	for i := range positionBase {
		positionBase[i] = base
		base += 1 << extraBits[i]
	}
}

func checkWindowBits(windowBits int) error {
	if windowBits < MinWindowBits || windowBits > MaxWindowBits {
		return fmt.Errorf("invalid LZX window size 2^%d", windowBits)
	}
	return nil
}

// Decoder decodes the frames of one LZX stream in order.
type Decoder struct {
	window   *slidingWindow
	numSlots int

	r0, r1, r2 uint32

	mainLengths   [maxMainTreeSize]byte
	lengthLengths [numSecondaryLengths]byte
	mainTree      *Tree
	lengthTree    *Tree
	alignedTree   *Tree

	block          blocktype
	blockLength    int
	blockRemaining int

	headerRead bool
	intel      intelTranslator
	frame      int
}

func NewDecoder(windowBits int) (*Decoder, error) {
	if err := checkWindowBits(windowBits); err != nil {
		return nil, err
	}
	return &Decoder{
		window:   newWindow(1 << windowBits),
		numSlots: positionSlots[windowBits-MinWindowBits],
		r0:       1,
		r1:       1,
		r2:       1,
	}, nil
}

// Decode decodes the next frame from in. out must have the frame's uncompressed size.
func (d *Decoder) Decode(in, out []byte) error {
	if len(out) > FrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(out), FrameSize)
	}
	stream := newBitStream(in)
	if !d.headerRead {
		if err := d.readStreamHeader(stream); err != nil {
			return err
		}
		d.headerRead = true
	}

	frameStart := d.window.position
	if frameStart+len(out) > d.window.Size() {
		return errors.New("frame crosses window boundary")
	}
	todo := len(out)
	for todo > 0 {
		if d.blockRemaining == 0 {
			if d.block == uncompressed && d.blockLength&1 == 1 {
				if _, err := stream.readBytes(1); err != nil {
					return err
				}
			}
			if err := d.readBlockHeader(stream); err != nil {
				return err
			}
		}
		run := min(d.blockRemaining, todo)
		var err error
		if d.block == uncompressed {
			err = d.copyUncompressed(stream, run)
		} else {
			err = d.decodeCompressed(stream, run)
		}
		if err != nil {
			return err
		}
		d.blockRemaining -= run
		todo -= run
	}
	stream.Align()

	copy(out, d.window.Slice(frameStart, len(out)))
	d.intel.translate(out, d.frame)
	d.frame++
	return nil
}

func (d *Decoder) readStreamHeader(stream *bitStream) error {
	intel, err := stream.ReadBits(1)
	if err != nil {
		return err
	}
	if intel == 0 {
		return nil
	}
	high, err := stream.ReadBits(16)
	if err != nil {
		return err
	}
	low, err := stream.ReadBits(16)
	if err != nil {
		return err
	}
	d.intel.fileSize = int32(high<<16 | low)
	return nil
}
