package lzx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errMatchOverrun = errors.New("match runs past end of frame or block")

func (d *Decoder) readBlockHeader(stream *bitStream) error {
	blockType, err := stream.ReadBits(3)
	if err != nil {
		return err
	}
	high, err := stream.ReadBits(16)
	if err != nil {
		return err
	}
	low, err := stream.ReadBits(8)
	if err != nil {
		return err
	}
	d.block = blocktype(blockType)
	d.blockLength = int(high<<8 | low)
	d.blockRemaining = d.blockLength

	switch d.block {
	case uncompressed:
		if err := stream.byteAlign(); err != nil {
			return err
		}
		header, err := stream.readBytes(12)
		if err != nil {
			return err
		}
		d.r0 = binary.LittleEndian.Uint32(header[0:])
		d.r1 = binary.LittleEndian.Uint32(header[4:])
		d.r2 = binary.LittleEndian.Uint32(header[8:])
		d.intel.started = true
	case aligned, verbatim:
		if d.block == aligned {
			d.alignedTree, err = readTree(stream, alignedTreeLengthBits, alignedTreeSize)
			if err != nil {
				return err
			}
		}
		mainSize := numChars + d.numSlots*8
		if err := readLengths(stream, d.mainLengths[:], 0, numChars); err != nil {
			return err
		}
		if err := readLengths(stream, d.mainLengths[:], numChars, mainSize); err != nil {
			return err
		}
		d.mainTree, err = buildTable(append([]byte(nil), d.mainLengths[:mainSize]...))
		if err != nil {
			return err
		}
		if d.mainTree.Empty() {
			return errors.New("empty main tree")
		}
		if d.mainLengths[0xE8] != 0 {
			d.intel.started = true
		}

		if err := readLengths(stream, d.lengthLengths[:], 0, numSecondaryLengths); err != nil {
			return err
		}
		d.lengthTree, err = buildTable(append([]byte(nil), d.lengthLengths[:]...))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid block type %d", blockType)
	}
	return nil
}

func (d *Decoder) copyUncompressed(stream *bitStream, run int) error {
	data, err := stream.readBytes(run)
	if err != nil {
		return err
	}
	d.window.AddBytes(data)
	return nil
}

func (d *Decoder) decodeCompressed(stream *bitStream, run int) error {
	for run > 0 {
		mainElement, err := d.mainTree.Decode(stream)
		if err != nil {
			return err
		}
		if mainElement < numChars {
			d.window.Add(uint8(mainElement))
			run--
			continue
		}
		mainElement -= numChars
		matchLength := int(mainElement & numPrimaryLengths)
		if matchLength == numPrimaryLengths {
			encodedLength, err := d.lengthTree.Decode(stream)
			if err != nil {
				return err
			}
			matchLength += int(encodedLength)
		}
		matchLength += minMatch

		matchOffset, err := d.readMatchOffset(stream, int(mainElement>>3))
		if err != nil {
			return err
		}
		if matchLength > run {
			return errMatchOverrun
		}
		if matchOffset == 0 || int64(matchOffset) > d.window.written || int(matchOffset) >= d.window.Size() {
			return fmt.Errorf("match offset %d out of range", matchOffset)
		}
		d.window.Copy(int(matchOffset), matchLength)
		run -= matchLength
	}
	return nil
}

func (d *Decoder) readMatchOffset(stream *bitStream, positionSlot int) (uint32, error) {
	var matchOffset uint32
	switch positionSlot {
	case 0:
		return d.r0, nil
	case 1:
		matchOffset = d.r1
		d.r1 = d.r0
		d.r0 = matchOffset
		return matchOffset, nil
	case 2:
		matchOffset = d.r2
		d.r2 = d.r0
		d.r0 = matchOffset
		return matchOffset, nil
	}

	extra := extraBits[positionSlot]
	matchOffset = positionBase[positionSlot] - 2
	switch {
	case d.block == aligned && extra >= 3: // aligned bits are present
		verbatimBits, err := stream.ReadBits(extra - 3)
		if err != nil {
			return 0, err
		}
		alignedBits, err := d.alignedTree.Decode(stream)
		if err != nil {
			return 0, err
		}
		matchOffset += verbatimBits<<3 + uint32(alignedBits)
	case extra > 0: // only verbatim bits
		verbatimBits, err := stream.ReadBits(extra)
		if err != nil {
			return 0, err
		}
		matchOffset += verbatimBits
	}
	d.r2, d.r1, d.r0 = d.r1, d.r0, matchOffset
	return matchOffset, nil
}
