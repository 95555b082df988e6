package cab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/secDre4mer/go-mspack/mspack"
)

type encodedBlock struct {
	data         []byte
	uncompressed int
}

type folderPlan struct {
	compressionType uint16
	files           []*plannedFile
	size            int64
	blocks          []encodedBlock
	// firstBlock is the index of the folder's first block among the blocks of all folders.
	firstBlock int
}

type plannedFile struct {
	source     string
	name       []byte
	attributes uint16
	date, time uint16
	offset     uint32
	length     uint32
	folder     *folderPlan
}

type partPlan struct {
	name    string
	folders []*partFolder
	files   []partFile
}

type partFolder struct {
	plan   *folderPlan
	pieces []encodedBlock
}

type partFile struct {
	*plannedFile
	fromPrevious bool
	toNext       bool
}

// partName returns the file name of part index of a set written to output.
func partName(output string, index int) string {
	if index == 0 {
		return output
	}
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + strconv.Itoa(index+1) + ext
}

// blockLayout maps global block indices to parts.
type blockLayout struct {
	blocks     int
	partBlocks int
	parts      int
	split      bool
}

func (l blockLayout) part(block int) int {
	if l.partBlocks == 0 {
		return 0
	}
	return min(block/l.partBlocks, l.parts-1)
}

// isSplit reports whether block is divided between its part and the next one.
func (l blockLayout) isSplit(block int) bool {
	return l.split && l.partBlocks != 0 && block%l.partBlocks == l.partBlocks-1 && l.part(block) < l.parts-1
}

// lastPart returns the last part holding data of block.
func (l blockLayout) lastPart(block int) int {
	if l.isSplit(block) {
		return l.part(block) + 1
	}
	return l.part(block)
}

// layoutParts distributes the encoded blocks of folders over cabinets holding at most partBlocks blocks each.
func layoutParts(folders []*folderPlan, partBlocks int, split bool) []*partPlan {
	layout := blockLayout{partBlocks: partBlocks, split: split}
	for _, folder := range folders {
		folder.firstBlock = layout.blocks
		layout.blocks += len(folder.blocks)
	}
	layout.parts = 1
	if partBlocks != 0 && layout.blocks > partBlocks {
		layout.parts = (layout.blocks + partBlocks - 1) / partBlocks
	}
	parts := make([]*partPlan, layout.parts)
	for i := range parts {
		parts[i] = &partPlan{}
	}
	addPiece := func(part *partPlan, folder *folderPlan, piece encodedBlock) {
		if n := len(part.folders); n == 0 || part.folders[n-1].plan != folder {
			part.folders = append(part.folders, &partFolder{plan: folder})
		}
		pf := part.folders[len(part.folders)-1]
		pf.pieces = append(pf.pieces, piece)
	}

	for _, folder := range folders {
		if len(folder.blocks) == 0 {
			anchor := layout.parts - 1
			if folder.firstBlock < layout.blocks {
				anchor = layout.part(folder.firstBlock)
			}
			parts[anchor].folders = append(parts[anchor].folders, &partFolder{plan: folder})
		}
		for i, block := range folder.blocks {
			global := folder.firstBlock + i
			part := layout.part(global)
			if !layout.isSplit(global) {
				addPiece(parts[part], folder, block)
				continue
			}
			cut := (len(block.data) + 1) / 2
			addPiece(parts[part], folder, encodedBlock{data: block.data[:cut]})
			addPiece(parts[part+1], folder, encodedBlock{data: block.data[cut:], uncompressed: block.uncompressed})
		}
	}

	for _, folder := range folders {
		for _, file := range folder.files {
			first, last := fileParts(layout, file)
			for p := first; p <= last; p++ {
				parts[p].files = append(parts[p].files, partFile{
					plannedFile:  file,
					fromPrevious: p > first,
					toNext:       p < last,
				})
			}
		}
	}
	return parts
}

// fileParts returns the range of parts that list file. A file starting exactly at a block boundary is also listed
// with the block before it, so a folder continued in the next part always has a continued file.
func fileParts(layout blockLayout, file *plannedFile) (int, int) {
	folder := file.folder
	if len(folder.blocks) == 0 {
		if folder.firstBlock < layout.blocks {
			return layout.part(folder.firstBlock), layout.part(folder.firstBlock)
		}
		return layout.parts - 1, layout.parts - 1
	}
	if file.length == 0 {
		block := folder.firstBlock + min(int(file.offset/blockMax), len(folder.blocks)-1)
		return layout.part(block), layout.part(block)
	}
	firstBlock := int(file.offset / blockMax)
	if file.offset != 0 && file.offset%blockMax == 0 {
		firstBlock--
	}
	lastBlock := int((uint64(file.offset) + uint64(file.length) - 1) / blockMax)
	return layout.part(folder.firstBlock + firstBlock), layout.lastPart(folder.firstBlock + lastBlock)
}

type partHeader struct {
	setID     uint16
	index     uint16
	language  uint16
	checksums bool
	previous  string
	next      string
}

func diskName(index uint16) string {
	return fmt.Sprintf("Disk %d", int(index)+1)
}

// encodePart serializes one cabinet of a set.
func encodePart(part *partPlan, header partHeader) ([]byte, error) {
	var flags uint16
	var strs bytes.Buffer
	writeString := func(s string) {
		strs.WriteString(s)
		strs.WriteByte(0)
	}
	if header.previous != "" {
		flags |= previousCabinetExists
		writeString(filepath.Base(header.previous))
		writeString(diskName(header.index - 1))
	}
	if header.next != "" {
		flags |= nextCabinetExists
		writeString(filepath.Base(header.next))
		writeString(diskName(header.index + 1))
	}
	headerLength := headerSize + strs.Len()
	if header.language != 0 {
		flags |= cabinetReserveExists
		headerLength += 4 + 2
	}

	filesOffset := headerLength + len(part.folders)*8
	dataOffset := filesOffset
	for _, file := range part.files {
		dataOffset += 16 + len(file.name) + 1
	}
	length := dataOffset
	for _, folder := range part.folders {
		for _, piece := range folder.pieces {
			length += 8 + len(piece.data)
		}
	}
	if int64(length) > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: cabinet of %d bytes is too large", mspack.ErrCrunch, length)
	}

	var out bytes.Buffer
	out.Grow(length)
	binary.Write(&out, binary.LittleEndian, cabinetFileHeader{
		Signature:            signature,
		Filesize:             uint32(length),
		FirstFileEntryOffset: uint32(filesOffset),
		VersionMinor:         3,
		VersionMajor:         1,
		FolderCount:          uint16(len(part.folders)),
		FileCount:            uint16(len(part.files)),
		Flags:                flags,
		SetId:                header.setID,
		SetIndex:             header.index,
	})
	if header.language != 0 {
		binary.Write(&out, binary.LittleEndian, cabinetFileReservedSizes{ReservedHeaderSize: 2})
		binary.Write(&out, binary.LittleEndian, header.language)
	}
	out.Write(strs.Bytes())

	folderIndex := map[*folderPlan]int{}
	offset := dataOffset
	for i, folder := range part.folders {
		folderIndex[folder.plan] = i
		binary.Write(&out, binary.LittleEndian, cabinetFileFolderHeader{
			CoffCabStart:    uint32(offset),
			CfDataCount:     uint16(len(folder.pieces)),
			CompressionType: folder.plan.compressionType,
		})
		for _, piece := range folder.pieces {
			offset += 8 + len(piece.data)
		}
	}

	for _, file := range part.files {
		index := uint16(folderIndex[file.folder])
		switch {
		case file.fromPrevious && file.toNext:
			index = folderContinuedBoth
		case file.fromPrevious:
			index = folderContinuedFromPrevious
		case file.toNext:
			index = folderContinuedToNext
		}
		binary.Write(&out, binary.LittleEndian, cabinetFileEntryHeader{
			UncompressedFileSize:       file.length,
			UncompressedOffsetInFolder: file.offset,
			FolderIndex:                index,
			Date:                       file.date,
			Time:                       file.time,
			Attributes:                 file.attributes,
		})
		out.Write(file.name)
		out.WriteByte(0)
	}

	for _, folder := range part.folders {
		for _, piece := range folder.pieces {
			var checksum uint32
			if header.checksums {
				checksum = blockChecksum(piece.data, len(piece.data), piece.uncompressed)
			}
			binary.Write(&out, binary.LittleEndian, cabinetFileDataHeader{
				Checksum:          checksum,
				CompressedBytes:   uint16(len(piece.data)),
				UncompressedBytes: uint16(piece.uncompressed),
			})
			out.Write(piece.data)
		}
	}
	return out.Bytes(), nil
}

// writePart encodes part and writes it through sys.
func writePart(sys mspack.System, part *partPlan, header partHeader) error {
	data, err := encodePart(part, header)
	if err != nil {
		return err
	}
	h, err := sys.Open(part.name, mspack.OpenWrite)
	if err != nil {
		return mspack.NewError(mspack.ErrOpen, "open", part.name, err)
	}
	n, err := sys.Write(h, data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write (%d of %d bytes)", n, len(data))
	}
	closeErr := sys.Close(h)
	if err != nil {
		return mspack.NewError(mspack.ErrWrite, "write", part.name, err)
	}
	if closeErr != nil {
		return mspack.NewError(mspack.ErrWrite, "close", part.name, closeErr)
	}
	return nil
}
