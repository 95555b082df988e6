// Package cab reads and writes Microsoft cabinet files, including cabinet sets that span several physical files.
// All storage and memory access goes through an mspack.System.
package cab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/secDre4mer/go-mspack/mspack"
)

const (
	previousCabinetExists = 0x0001
	nextCabinetExists     = 0x0002
	cabinetReserveExists  = 0x0004
)

// Header flags of a Cabinet.
const (
	FlagPreviousCabinet = previousCabinetExists
	FlagNextCabinet     = nextCabinetExists
	FlagReserve         = cabinetReserveExists
)

const (
	// ReservedHeaderOffset is the offset of the vendor reserved header area, if present.
	ReservedHeaderOffset = 0x28

	blockMax  = 32768
	inputMax  = blockMax + 6144
	folderMax = 65535
	stringMax = 255

	headerSize = 36
)

// Special folder indices of CFFILE entries
const (
	folderContinuedFromPrevious = 0xFFFD
	folderContinuedToNext       = 0xFFFE
	folderContinuedBoth         = 0xFFFF
)

var signature = [4]byte{0x4D, 0x53, 0x43, 0x46}

// Cabinet file header according to https://docs.microsoft.com/en-us/previous-versions//bb267310(v=vs.85)?redirectedfrom=MSDN#cfheader
type cabinetFileHeader struct {
	Signature            [4]byte
	_                    uint32
	Filesize             uint32
	_                    uint32
	FirstFileEntryOffset uint32
	_                    uint32
	VersionMinor         byte
	VersionMajor         byte
	FolderCount          uint16
	FileCount            uint16
	Flags                uint16
	SetId                uint16
	SetIndex             uint16
	// Optional: cabinetFileReservedSizes, if cabinetReserveExists is set
	// Optional: Cabinet reserved area, if cabinetReserveExists is set
	// Optional: Name of previous cabinet file
	// Optional: Name of previous disk
	// Optional: Name of next cabinet file
	// Optional: Name of next disk
}

type cabinetFileReservedSizes struct {
	ReservedHeaderSize    uint16
	ReservedFolderSize    uint8
	ReservedDatablockSize uint8
}

type cabinetFileFolderHeader struct {
	CoffCabStart    uint32
	CfDataCount     uint16
	CompressionType uint16
	// Optional: Per-Folder reserved area
}

type cabinetFileEntryHeader struct {
	UncompressedFileSize       uint32
	UncompressedOffsetInFolder uint32
	FolderIndex                uint16
	Date                       uint16
	Time                       uint16
	Attributes                 uint16
	// Followed by fileName, which is a zero-terminated string
}

type cabinetFileDataHeader struct {
	Checksum          uint32
	CompressedBytes   uint16
	UncompressedBytes uint16
	// Optional: Per-Datablock reserved area
	// Followed by compressed data bytes
}

// handleReader adapts a substrate handle to io.ReaderAt.
type handleReader struct {
	sys mspack.System
	h   mspack.Handle
}

func (r handleReader) ReadAt(p []byte, off int64) (int, error) {
	if err := r.sys.Seek(r.h, off, mspack.SeekStart); err != nil {
		return 0, mspack.NewError(mspack.ErrSeek, "seek", mspack.HandleName(r.h), err)
	}
	n := 0
	for n < len(p) {
		m, err := r.sys.Read(r.h, p[n:])
		n += m
		if err == io.EOF {
			return n, io.EOF
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}

// fileSize returns the size of the file behind h and rewinds it.
func fileSize(sys mspack.System, h mspack.Handle) (int64, error) {
	if err := sys.Seek(h, 0, mspack.SeekEnd); err != nil {
		return 0, mspack.NewError(mspack.ErrSeek, "seek", mspack.HandleName(h), err)
	}
	size, err := sys.Tell(h)
	if err != nil {
		return 0, mspack.NewError(mspack.ErrSeek, "tell", mspack.HandleName(h), err)
	}
	if err := sys.Seek(h, 0, mspack.SeekStart); err != nil {
		return 0, mspack.NewError(mspack.ErrSeek, "seek", mspack.HandleName(h), err)
	}
	return size, nil
}

func dataFormatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", mspack.ErrDataFormat, fmt.Sprintf(format, args...))
}

// readError classifies errors of header reads: truncation and substrate failures become ErrRead unless they
// already carry a code.
func readError(err error) error {
	var e *mspack.Error
	var c mspack.Code
	if errors.As(err, &e) || errors.As(err, &c) {
		return err
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", mspack.ErrRead, err)
}

type parseOptions struct {
	name  string
	base  int64
	size  int64
	quiet bool
}

// readCabinet parses the cabinet starting at opts.base. The returned cabinet belongs to a new single-member set.
func readCabinet(sys mspack.System, h mspack.Handle, opts parseOptions) (*Cabinet, error) {
	fullReader := io.NewSectionReader(handleReader{sys, h}, opts.base, opts.size-opts.base)
	cab := &Cabinet{Filename: opts.name, BaseOffset: opts.base}

	var cfHeader cabinetFileHeader
	if err := binary.Read(fullReader, binary.LittleEndian, &cfHeader); err != nil {
		return nil, readError(err)
	}

	if cfHeader.Signature != signature {
		return nil, fmt.Errorf("%w: CAB signature did not match", mspack.ErrSignature)
	}

	if cfHeader.VersionMajor != 1 || cfHeader.VersionMinor != 3 {
		if !opts.quiet {
			sys.Message(h, "WARNING; cabinet version is not 1.3 (%d.%d)", cfHeader.VersionMajor, cfHeader.VersionMinor)
		}
	}
	if cfHeader.FolderCount == 0 {
		return nil, dataFormatError("no folders in cabinet")
	}
	if cfHeader.FileCount == 0 {
		return nil, dataFormatError("no files in cabinet")
	}
	if cfHeader.Filesize < headerSize || cfHeader.FirstFileEntryOffset >= cfHeader.Filesize {
		return nil, dataFormatError("invalid cabinet length %d", cfHeader.Filesize)
	}
	cab.Length = int64(cfHeader.Filesize)
	cab.SetID = cfHeader.SetId
	cab.SetIndex = cfHeader.SetIndex
	cab.Flags = cfHeader.Flags
	cab.VersionMajor = cfHeader.VersionMajor
	cab.VersionMinor = cfHeader.VersionMinor

	var reservedSizes cabinetFileReservedSizes
	if cfHeader.Flags&cabinetReserveExists != 0 {
		if err := binary.Read(fullReader, binary.LittleEndian, &reservedSizes); err != nil {
			return nil, readError(err)
		}
		if reservedSizes.ReservedHeaderSize > 60000 && !opts.quiet {
			sys.Message(h, "WARNING; reserved header > 60000.")
		}
	}
	var reservedHeaderBlock = make([]byte, reservedSizes.ReservedHeaderSize)
	if _, err := io.ReadFull(fullReader, reservedHeaderBlock); err != nil {
		return nil, readError(err)
	}
	cab.ReservedHeaderBlock = reservedHeaderBlock
	cab.folderReserve = int(reservedSizes.ReservedFolderSize)
	cab.blockReserve = int(reservedSizes.ReservedDatablockSize)

	if cfHeader.Flags&previousCabinetExists != 0 {
		var err error
		if cab.PreviousFile, err = readZeroTerminatedString(fullReader); err != nil {
			return nil, err
		}
		if cab.PreviousDisk, err = readZeroTerminatedString(fullReader); err != nil {
			return nil, err
		}
	}

	if cfHeader.Flags&nextCabinetExists != 0 {
		var err error
		if cab.NextFile, err = readZeroTerminatedString(fullReader); err != nil {
			return nil, err
		}
		if cab.NextDisk, err = readZeroTerminatedString(fullReader); err != nil {
			return nil, err
		}
	}

	folders, err := readFolderEntries(fullReader, cfHeader.FolderCount, reservedSizes.ReservedFolderSize)
	if err != nil {
		return nil, err
	}

	if err := checkDataSpace(cab, folders); err != nil {
		return nil, err
	}

	// Look up data entries for each folder
	for _, folder := range folders {
		if _, err := fullReader.Seek(int64(folder.header.CoffCabStart), io.SeekStart); err != nil {
			return nil, readError(err)
		}
		folder.cabinet = cab
		if err := readDataEntries(fullReader, cab, folder, opts.base); err != nil {
			return nil, err
		}
	}

	if _, err := fullReader.Seek(int64(cfHeader.FirstFileEntryOffset), io.SeekStart); err != nil {
		return nil, readError(err)
	}
	files, err := readFileEntries(fullReader, cfHeader.FileCount, folders)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		file.cabinet = cab
	}

	if err := checkFolders(folders, files); err != nil {
		return nil, err
	}
	cab.set = &cabinetSet{
		folders: folders,
		files:   files,
		members: []*Cabinet{cab},
	}
	return cab, nil
}

func readZeroTerminatedString(reader *io.SectionReader) (string, error) {
	stringStartOffset, _ := reader.Seek(0, io.SeekCurrent)

	var buffer [stringMax + 1]byte
	n, err := io.ReadFull(reader, buffer[:])
	var end = -1
	for i := range buffer[:n] {
		if buffer[i] == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		if err != nil {
			return "", readError(err)
		}
		return "", dataFormatError("string too long or not terminated")
	}
	// Adjust reader offset to the position after the string and terminating zero
	if _, err := reader.Seek(stringStartOffset+int64(end)+1, io.SeekStart); err != nil {
		return "", readError(err)
	}
	return string(buffer[:end]), nil
}

func readFolderEntries(reader *io.SectionReader, folderCount uint16, reservedAreaSize uint8) ([]*Folder, error) {
	var folders []*Folder
	for i := 0; i < int(folderCount); i++ {
		var folder Folder
		if err := binary.Read(reader, binary.LittleEndian, &folder.header); err != nil {
			return nil, readError(err)
		}
		folder.CompressionType = folder.header.CompressionType

		if reservedAreaSize != 0 {
			folder.ReservedData = make([]byte, reservedAreaSize)
			if _, err := io.ReadFull(reader, folder.ReservedData); err != nil {
				return nil, readError(err)
			}
		}

		folders = append(folders, &folder)
	}
	return folders, nil
}

func readFileEntries(reader *io.SectionReader, fileCount uint16, folders []*Folder) ([]*File, error) {
	var files []*File
	for i := 0; i < int(fileCount); i++ {
		var fileHeader cabinetFileEntryHeader
		if err := binary.Read(reader, binary.LittleEndian, &fileHeader); err != nil {
			return nil, readError(err)
		}

		filename, err := readZeroTerminatedString(reader)
		if err != nil {
			return nil, err
		}
		file := &File{
			RawName:    []byte(filename),
			Length:     fileHeader.UncompressedFileSize,
			Offset:     fileHeader.UncompressedOffsetInFolder,
			Attributes: fileHeader.Attributes,
			Modified:   parseCabTimestamp(fileHeader.Date, fileHeader.Time),
		}
		file.Name = decodeName(file.RawName, file.Attributes)

		switch index := fileHeader.FolderIndex; index {
		case folderContinuedFromPrevious:
			file.folder = folders[0]
			file.fromPrevious = true
		case folderContinuedToNext:
			file.folder = folders[len(folders)-1]
			file.toNext = true
		case folderContinuedBoth:
			if len(folders) != 1 {
				return nil, dataFormatError("file %q continued in both directions needs exactly one folder", filename)
			}
			file.folder = folders[0]
			file.fromPrevious = true
			file.toNext = true
		default:
			if int(index) >= len(folders) {
				return nil, dataFormatError("invalid folder reference %d", index)
			}
			file.folder = folders[index]
		}
		if file.fromPrevious {
			file.folder.continuedFromPrevious = true
		}
		if file.toNext {
			file.folder.continuesToNext = true
		}
		files = append(files, file)
	}
	return files, nil
}

func readDataEntries(reader *io.SectionReader, cab *Cabinet, folder *Folder, base int64) error {
	for i := 0; i < int(folder.header.CfDataCount); i++ {
		var dataEntryHeader cabinetFileDataHeader
		if err := binary.Read(reader, binary.LittleEndian, &dataEntryHeader); err != nil {
			return readError(err)
		}
		if dataEntryHeader.CompressedBytes > inputMax {
			return dataFormatError("data block of %d bytes exceeds %d", dataEntryHeader.CompressedBytes, inputMax)
		}
		if dataEntryHeader.UncompressedBytes > blockMax {
			return dataFormatError("data block decompresses to %d bytes, more than %d", dataEntryHeader.UncompressedBytes, blockMax)
		}

		piece := dataPiece{
			cabinet:      cab,
			checksum:     dataEntryHeader.Checksum,
			compressed:   int(dataEntryHeader.CompressedBytes),
			uncompressed: int(dataEntryHeader.UncompressedBytes),
		}
		if cab.blockReserve != 0 {
			piece.reserved = make([]byte, cab.blockReserve)
			if _, err := io.ReadFull(reader, piece.reserved); err != nil {
				return readError(err)
			}
		}

		// Remember where the compressed data is and skip it
		currentOffset, _ := reader.Seek(0, io.SeekCurrent)
		piece.offset = base + currentOffset
		if _, err := reader.Seek(int64(piece.compressed), io.SeekCurrent); err != nil {
			return readError(err)
		}

		folder.blocks = append(folder.blocks, &dataBlock{pieces: []dataPiece{piece}})
	}
	return nil
}

// checkDataSpace rejects folder tables whose data block headers cannot all fit between the first folder's data
// and the end of the cabinet. Folders may not share data blocks, so the headers alone bound the block count.
func checkDataSpace(cab *Cabinet, folders []*Folder) error {
	start := cab.Length
	var needed int64
	for _, folder := range folders {
		if folder.header.CfDataCount == 0 {
			continue
		}
		start = min(start, int64(folder.header.CoffCabStart))
		needed += int64(folder.header.CfDataCount) * int64(8+cab.blockReserve)
	}
	if needed > cab.Length-start {
		return dataFormatError("folders declare %d bytes of data block headers, more than the cabinet holds", needed)
	}
	return nil
}

// checkFolders validates the folder layout of a freshly parsed cabinet.
func checkFolders(folders []*Folder, files []*File) error {
	for i, folder := range folders {
		for j, block := range folder.blocks {
			if !block.complete() && (j != len(folder.blocks)-1 || !folder.continuesToNext) {
				return dataFormatError("folder %d has a partial data block that does not continue", i)
			}
		}
		if folder.continuedFromPrevious && i != 0 {
			return dataFormatError("only the first folder may be continued from a previous cabinet")
		}
	}
	for _, file := range files {
		if err := checkCapacity(file.folder, file); err != nil {
			return err
		}
	}
	return nil
}

// checkCapacity verifies that a file of a folder whose blocks are all known fits into those blocks.
func checkCapacity(folder *Folder, file *File) error {
	if folder.continuedFromPrevious || folder.continuesToNext {
		return nil
	}
	if uint64(file.Offset)+uint64(file.Length) > uint64(folder.NumBlocks())*blockMax {
		return dataFormatError("file %q lies beyond the end of its folder", file.Name)
	}
	return nil
}

func sameName(a, b string) bool {
	return strings.EqualFold(a, b)
}
