package lzx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

func TestPositionTables(t *testing.T) {
	expectedBase := []uint32{0, 1, 2, 3, 4, 6, 8, 12, 16, 24, 32}
	expectedExtra := []int{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4}
	for i := range expectedBase {
		if positionBase[i] != expectedBase[i] || extraBits[i] != expectedExtra[i] {
			t.Fatalf("slot %d: base %d extra %d", i, positionBase[i], extraBits[i])
		}
	}
	if extraBits[36] != 17 || extraBits[49] != 17 {
		t.Fatal("extra bits not capped at 17")
	}
	// The last slot of the largest window must reach the full 2MiB window.
	if positionBase[49]+1<<extraBits[49] != 1<<21 {
		t.Fatal(positionBase[49])
	}
}

func TestBitStream(t *testing.T) {
	var w bitWriter
	w.WriteBits(0b101, 3)
	w.WriteBits(0xABCD, 16)
	w.WriteBits(1, 1)
	w.Flush()
	stream := newBitStream(w.out)
	if v, _ := stream.ReadBits(3); v != 0b101 {
		t.Fatal(v)
	}
	if v, _ := stream.ReadBits(16); v != 0xABCD {
		t.Fatal(v)
	}
	if v, _ := stream.ReadBits(1); v != 1 {
		t.Fatal(v)
	}
	// Reads past the end return zero padding for two words only.
	if v, err := stream.ReadBits(12); err != nil || v != 0 {
		t.Fatal(v, err)
	}
	if _, err := stream.ReadBits(16); err != nil {
		t.Fatal(err)
	}
	if _, err := stream.ReadBits(16); err != nil {
		t.Fatal(err)
	}
	if _, err := stream.ReadBits(16); !errors.Is(err, errOutOfInput) {
		t.Fatal("expected input exhaustion", err)
	}
}

func TestBuildTable(t *testing.T) {
	tree, err := buildTable([]byte{2, 1, 3, 3})
	if err != nil {
		t.Fatal(err)
	}
	var w bitWriter
	// Canonical codes: 1 -> 0, 0 -> 10, 2 -> 110, 3 -> 111
	w.WriteBits(0b111, 3)
	w.WriteBits(0b0, 1)
	w.WriteBits(0b10, 2)
	w.WriteBits(0b110, 3)
	w.Flush()
	stream := newBitStream(w.out)
	for _, expected := range []uint16{3, 1, 0, 2} {
		code, err := tree.Decode(stream)
		if err != nil {
			t.Fatal(err)
		}
		if code != expected {
			t.Fatalf("expected %d, got %d", expected, code)
		}
	}

	if _, err := buildTable([]byte{1, 2}); err == nil {
		t.Fatal("incomplete code accepted")
	}
	empty, err := buildTable(make([]byte, 10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := empty.Decode(newBitStream([]byte{0, 0})); !errors.Is(err, errEmptyTree) {
		t.Fatal("empty tree decoded", err)
	}
}

func frames(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func roundTrip(t *testing.T, enc *Encoder, windowBits int, input [][]byte) {
	t.Helper()
	dec, err := NewDecoder(windowBits)
	if err != nil {
		t.Fatal(err)
	}
	for i, frame := range input {
		compressed, err := enc.Encode(frame)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]byte, len(frame))
		if err := dec.Decode(compressed, out); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(out, frame) {
			t.Fatalf("frame %d differs", i)
		}
	}
}

func testData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(data)
	copy(data, bytes.Repeat([]byte("LZX literal frames "), 1000))
	return data
}

func TestLiteralRoundTrip(t *testing.T) {
	for _, windowBits := range []int{15, 16, 21} {
		enc, err := NewEncoder(windowBits)
		if err != nil {
			t.Fatal(err)
		}
		roundTrip(t, enc, windowBits, frames(testData(3*FrameSize+1234), FrameSize))
	}
}

func TestUncompressedRoundTrip(t *testing.T) {
	enc, _ := NewEncoder(16)
	enc.Uncompressed = true
	roundTrip(t, enc, 16, frames(testData(2*FrameSize+777), FrameSize))
}

func TestMixedBlocksWithOddFrames(t *testing.T) {
	enc, _ := NewEncoder(15)
	dec, _ := NewDecoder(15)
	data := testData(1001 + 500 + 777 + 64)
	sizes := []int{1001, 500, 777, 64}
	modes := []bool{true, false, true, false}
	for i, size := range sizes {
		frame := data[:size]
		data = data[size:]
		enc.Uncompressed = modes[i]
		compressed, err := enc.Encode(frame)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]byte, size)
		if err := dec.Decode(compressed, out); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(out, frame) {
			t.Fatalf("frame %d differs", i)
		}
	}
}

func TestIntelTranslation(t *testing.T) {
	data := testData(FrameSize + 5000)
	for pos := 100; pos < len(data)-20; pos += 997 {
		data[pos] = 0xE8
		operand := int32(pos % 3000)
		if (pos/997)%2 == 1 {
			operand = -int32(pos % 50)
		}
		binary.LittleEndian.PutUint32(data[pos+1:], uint32(operand))
	}
	for _, uncompressedBlocks := range []bool{true, false} {
		enc, _ := NewEncoder(17)
		enc.IntelFileSize = 12000000
		enc.Uncompressed = uncompressedBlocks
		input := frames(data, FrameSize)
		if uncompressedBlocks {
			probe, _ := NewEncoder(17)
			probe.IntelFileSize = 12000000
			probe.Uncompressed = true
			compressed, _ := probe.Encode(input[0])
			if bytes.Contains(compressed, input[0][90:120]) {
				t.Fatal("call operands were not translated")
			}
		}
		roundTrip(t, enc, 17, input)
	}
}

// writeLengthList writes a pretree with one-bit codes for the deltas 0 and delta, then one code per length.
func writeLengthList(w *bitWriter, delta int, changed map[int]bool, count int) {
	for i := 0; i < preTreeSize; i++ {
		if i == 0 || i == delta {
			w.WriteBits(1, preTreeLengthBits)
		} else {
			w.WriteBits(0, preTreeLengthBits)
		}
	}
	for i := 0; i < count; i++ {
		if changed[i] {
			w.WriteBits(1, 1)
		} else {
			w.WriteBits(0, 1)
		}
	}
}

// matchStream builds a verbatim block whose main tree only knows the literal 'a' and a match of length 2 at
// offset 1 (position slot 3).
func matchStream(blockLength int, matches int) []byte {
	const windowBits = 15
	const matchSymbol = numChars + 3*8
	var w bitWriter
	w.WriteBits(0, 1)
	w.WriteBits(uint32(verbatim), 3)
	w.WriteBits(uint32(blockLength)>>8, 16)
	w.WriteBits(uint32(blockLength)&0xFF, 8)
	// A delta of 16 turns a previous length of 0 into 1.
	writeLengthList(&w, 16, map[int]bool{'a': true}, numChars)
	writeLengthList(&w, 16, map[int]bool{matchSymbol - numChars: true}, positionSlots[windowBits-MinWindowBits]*8)
	writeLengthList(&w, 16, nil, numSecondaryLengths)
	// 'a' has code 0, the match symbol code 1
	w.WriteBits(0, 1)
	for i := 0; i < matches; i++ {
		w.WriteBits(1, 1)
	}
	w.Flush()
	return w.out
}

func TestMatchDecoding(t *testing.T) {
	dec, _ := NewDecoder(15)
	out := make([]byte, 5)
	if err := dec.Decode(matchStream(5, 2), out); err != nil {
		t.Fatal(err)
	}
	if string(out) != "aaaaa" {
		t.Fatal(string(out))
	}
	if dec.r0 != 1 || dec.r1 != 1 || dec.r2 != 1 {
		t.Fatal("repeated offsets not rotated", dec.r0, dec.r1, dec.r2)
	}
}

func TestMatchOverrun(t *testing.T) {
	dec, _ := NewDecoder(15)
	out := make([]byte, 4)
	if err := dec.Decode(matchStream(4, 2), out); !errors.Is(err, errMatchOverrun) {
		t.Fatal("expected overrun", err)
	}
}

func TestInvalidInput(t *testing.T) {
	if _, err := NewDecoder(14); err == nil {
		t.Fatal("window too small accepted")
	}
	if _, err := NewEncoder(22); err == nil {
		t.Fatal("window too large accepted")
	}
	dec, _ := NewDecoder(15)
	var w bitWriter
	w.WriteBits(0, 1)
	w.WriteBits(0, 3)
	w.WriteBits(0, 24)
	w.Flush()
	if err := dec.Decode(w.out, make([]byte, 10)); err == nil {
		t.Fatal("block type 0 accepted")
	}
	if err := dec.Decode(nil, make([]byte, FrameSize+1)); err == nil {
		t.Fatal("oversized frame accepted")
	}
}
