package lzx

import (
	"errors"
	"math"
)

var errEmptyTree = errors.New("decoding with empty tree")

func readTree(stream *bitStream, lengthBits int, size int) (*Tree, error) {
	var lengths = make([]byte, size)
	for i := 0; i < len(lengths); i++ {
		treeEntry, err := stream.ReadBits(lengthBits)
		if err != nil {
			return nil, err
		}
		lengths[i] = uint8(treeEntry)
	}

	return buildTable(lengths)
}

// buildTable builds the canonical decoding table for lengths. A table without any codes is valid and yields an
// empty Tree that fails on use.
func buildTable(lengths []byte) (*Tree, error) {
	var maxLength byte
	for _, length := range lengths {
		if length > maxLength {
			maxLength = length
		}
	}
	if maxLength == 0 {
		return &Tree{PathLengths: lengths}, nil
	}
	if maxLength > 16 {
		return nil, errors.New("code length too long")
	}

	// Plausibility check: lengths must describe a complete prefix code
	code := 0
	for _, cl := range lengths {
		if cl > 0 {
			code += 1 << (maxLength - cl)
		}
	}

	if code != 1<<maxLength {
		return nil, errors.New("invalid tree lengths")
	}

	huffmanTree := make([]uint16, 1<<maxLength)
	position := 0

	if len(lengths) > math.MaxUint16 {
		return nil, errors.New("too many codes")
	}

	for bit := uint8(1); bit <= maxLength; bit++ {
		amount := 1 << (maxLength - bit)
		for code := uint16(0); code < uint16(len(lengths)); code++ {
			if lengths[code] == bit {
				for j := 0; j < amount; j++ {
					huffmanTree[position] = code
					position++
				}
			}
		}
	}

	return &Tree{
		PathLengths: lengths,
		HuffmanTree: huffmanTree,
		MaxDepth:    int(maxLength),
	}, nil
}

type Tree struct {
	PathLengths []byte
	MaxDepth    int
	HuffmanTree []uint16
}

func (t *Tree) Empty() bool {
	return t.MaxDepth == 0
}

func (t *Tree) Decode(stream *bitStream) (uint16, error) {
	if t.MaxDepth == 0 {
		return 0, errEmptyTree
	}
	// At most, we need as many bits as the max depth. Peek at this many bits to determine the code.
	nextBits, err := stream.PeekBits(t.MaxDepth)
	if err != nil {
		return 0, err
	}
	code := t.HuffmanTree[nextBits]
	// The actual amount of bits the code took is t.PathLengths[code].
	stream.remove(int(t.PathLengths[code]))
	return code, nil
}

// readLengths updates lengths[first:last] from a pretree-coded delta list. Values outside the range are kept, as
// they carry over from the previous block.
func readLengths(stream *bitStream, lengths []byte, first, last int) error {
	preTree, err := readTree(stream, preTreeLengthBits, preTreeSize)
	if err != nil {
		return err
	}
	for i := first; i < last; {
		k, err := preTree.Decode(stream)
		if err != nil {
			return err
		}
		switch k {
		case 17, 18:
			var j uint32
			if k == 17 {
				j, err = stream.ReadBits(4)
				j += 4
			} else {
				j, err = stream.ReadBits(5)
				j += 20
			}
			if err != nil {
				return err
			}
			for ; j > 0 && i < last; j-- {
				lengths[i] = 0
				i++
			}
		case 19:
			j, err := stream.ReadBits(1)
			if err != nil {
				return err
			}
			j += 4
			k, err := preTree.Decode(stream)
			if err != nil {
				return err
			}
			if k > 16 {
				return errors.New("invalid run length in pretree")
			}
			m := uint8((uint16(lengths[i]) + 17 - k) % 17)
			for ; j > 0 && i < last; j-- {
				lengths[i] = m
				i++
			}
		default:
			lengths[i] = uint8((uint16(lengths[i]) + 17 - k) % 17)
			i++
		}
	}
	return nil
}
