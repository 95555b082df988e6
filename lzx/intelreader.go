package lzx

import "encoding/binary"

// intelTranslator handles the E8 call translation applied to x86 code: the 32-bit operand after every E8 byte is
// stored as an absolute offset instead of a relative one.
type intelTranslator struct {
	fileSize int32
	started  bool
	curPos   int32
}

func (t *intelTranslator) active(data []byte, frame int) bool {
	return t.started && t.fileSize != 0 && frame < intelFrameLimit && len(data) > 10
}

// translate converts absolute call offsets of a decoded frame back to relative ones.
func (t *intelTranslator) translate(data []byte, frame int) {
	if t.active(data, frame) {
		curPos := t.curPos
		for index := 0; index < len(data)-10; {
			if data[index] != 0xE8 {
				index++
				curPos++
				continue
			}
			absoluteOffset := int32(binary.LittleEndian.Uint32(data[index+1:]))
			if absoluteOffset >= -curPos && absoluteOffset < t.fileSize {
				var relativeOffset int32
				if absoluteOffset >= 0 {
					relativeOffset = absoluteOffset - curPos
				} else {
					relativeOffset = absoluteOffset + t.fileSize
				}
				binary.LittleEndian.PutUint32(data[index+1:], uint32(relativeOffset))
			}
			index += 5
			curPos += 5
		}
	}
	t.curPos += int32(len(data))
}

// untranslate is the inverse of translate, used when encoding.
func (t *intelTranslator) untranslate(data []byte, frame int) {
	if t.active(data, frame) {
		curPos := t.curPos
		for index := 0; index < len(data)-10; {
			if data[index] != 0xE8 {
				index++
				curPos++
				continue
			}
			relativeOffset := int32(binary.LittleEndian.Uint32(data[index+1:]))
			switch {
			case relativeOffset >= -curPos && relativeOffset < t.fileSize-curPos:
				binary.LittleEndian.PutUint32(data[index+1:], uint32(relativeOffset+curPos))
			case relativeOffset >= t.fileSize-curPos && relativeOffset < t.fileSize:
				binary.LittleEndian.PutUint32(data[index+1:], uint32(relativeOffset-t.fileSize))
			}
			index += 5
			curPos += 5
		}
	}
	t.curPos += int32(len(data))
}
