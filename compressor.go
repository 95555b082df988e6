package cab

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/secDre4mer/go-mspack/lzx"
	"github.com/secDre4mer/go-mspack/mspack"
)

// CompressorParam selects a tunable of a Compressor.
type CompressorParam int

const (
	// ParamTimestamp is the modification time stored for every file, in Unix seconds. 0 uses the time of Generate.
	ParamTimestamp CompressorParam = iota
	// ParamLanguage is stored in a two byte reserved header area when non-zero.
	ParamLanguage
	// ParamWindow is the LZX window size in bits.
	ParamWindow
	// ParamDensity is the deflate level of MS-ZIP folders.
	ParamDensity
	// ParamChecksums, when 1, stores a checksum for every data block.
	ParamChecksums
	// ParamCompression is the compression method of new folders.
	ParamCompression
	ParamSetID
	// ParamPartBlocks is the maximum number of data blocks per cabinet. 0 writes a single cabinet.
	ParamPartBlocks
	// ParamSplitBlocks, when 1, splits the last data block of every cabinet but the last one with the next cabinet.
	ParamSplitBlocks
)

var (
	dosEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	dosEnd   = time.Date(2107, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// InputFile names a file to store and the name it gets in the cabinet.
type InputFile struct {
	Source     string
	Target     string
	Attributes uint16
	// NewFolder starts a new folder with this file.
	NewFolder bool
}

// Compressor writes cabinets and cabinet sets. It is not safe for concurrent use.
type Compressor struct {
	sys mspack.System

	timestamp   int64
	language    int
	window      int
	density     int
	checksums   bool
	compression int
	setID       int
	partBlocks  int
	splitBlocks bool

	lastError mspack.Code
}

// NewCompressor returns a Compressor working through sys. A nil sys selects a new mspack.FileSystem.
func NewCompressor(sys mspack.System) *Compressor {
	if sys == nil {
		sys = mspack.NewFileSystem()
	}
	return &Compressor{
		sys:         sys,
		window:      16,
		density:     6,
		checksums:   true,
		compression: CompressionMSZIP,
	}
}

func (c *Compressor) System() mspack.System {
	return c.sys
}

func (c *Compressor) LastError() mspack.Code {
	return c.lastError
}

func (c *Compressor) finish(op, name string, err error, fallback mspack.Code) error {
	c.lastError, err = wrapOperation(op, name, err, fallback)
	return err
}

func (c *Compressor) SetParam(param CompressorParam, value int) error {
	return c.finish("set_param", "", c.setParam(param, value), mspack.ErrArgs)
}

func (c *Compressor) setParam(param CompressorParam, value int) error {
	inRange := func(name string, lo, hi int) error {
		if value < lo || value > hi {
			return fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, value)
		}
		return nil
	}
	switch param {
	case ParamTimestamp:
		if value != 0 && (int64(value) < dosEpoch || int64(value) > dosEnd) {
			return fmt.Errorf("timestamp %d is outside the DOS date range", value)
		}
		c.timestamp = int64(value)
	case ParamLanguage:
		if err := inRange("language", 0, 0xFFFF); err != nil {
			return err
		}
		c.language = value
	case ParamWindow:
		if err := inRange("window", lzx.MinWindowBits, lzx.MaxWindowBits); err != nil {
			return err
		}
		c.window = value
	case ParamDensity:
		if err := inRange("density", 1, 9); err != nil {
			return err
		}
		c.density = value
	case ParamChecksums:
		if err := inRange("checksums", 0, 1); err != nil {
			return err
		}
		c.checksums = value == 1
	case ParamCompression:
		switch value {
		case CompressionNone, CompressionMSZIP, CompressionLZX:
		case CompressionQuantum:
			return errQuantum
		default:
			return fmt.Errorf("unknown compression method %d", value)
		}
		c.compression = value
	case ParamSetID:
		if err := inRange("set ID", 0, 0xFFFF); err != nil {
			return err
		}
		c.setID = value
	case ParamPartBlocks:
		if err := inRange("blocks per part", 0, folderMax); err != nil {
			return err
		}
		c.partBlocks = value
	case ParamSplitBlocks:
		if err := inRange("split blocks", 0, 1); err != nil {
			return err
		}
		c.splitBlocks = value == 1
	default:
		return fmt.Errorf("unknown parameter %d", param)
	}
	return nil
}

// Param returns the current value of a tunable, or -1 for unknown parameters.
func (c *Compressor) Param(param CompressorParam) int {
	flag := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	switch param {
	case ParamTimestamp:
		return int(c.timestamp)
	case ParamLanguage:
		return c.language
	case ParamWindow:
		return c.window
	case ParamDensity:
		return c.density
	case ParamChecksums:
		return flag(c.checksums)
	case ParamCompression:
		return c.compression
	case ParamSetID:
		return c.setID
	case ParamPartBlocks:
		return c.partBlocks
	case ParamSplitBlocks:
		return flag(c.splitBlocks)
	}
	return -1
}

func (c *Compressor) compressionType() uint16 {
	if c.compression == CompressionLZX {
		return uint16(CompressionLZX | c.window<<8)
	}
	return uint16(c.compression)
}

// Generate compresses files in order and writes them to output. When ParamPartBlocks is set and the data needs
// more blocks, the set continues in files named after output with the part number before the extension.
func (c *Compressor) Generate(files []InputFile, output string) error {
	return c.finish("generate", output, c.generate(files, output), mspack.ErrCrunch)
}

func (c *Compressor) generate(files []InputFile, output string) error {
	folders, err := c.planFolders(files)
	if err != nil {
		return err
	}
	for _, folder := range folders {
		if err := c.encodeFolder(folder); err != nil {
			return err
		}
	}
	layout := layoutParts(folders, c.partBlocks, c.splitBlocks)
	for i, part := range layout {
		part.name = partName(output, i)
	}
	for i, part := range layout {
		header := partHeader{
			setID:     uint16(c.setID),
			index:     uint16(i),
			language:  uint16(c.language),
			checksums: c.checksums,
		}
		if i > 0 {
			header.previous = layout[i-1].name
		}
		if i < len(layout)-1 {
			header.next = layout[i+1].name
		}
		if err := writePart(c.sys, part, header); err != nil {
			return err
		}
	}
	return nil
}

// planFolders groups files into folders and measures every source.
func (c *Compressor) planFolders(files []InputFile) ([]*folderPlan, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no input files", mspack.ErrArgs)
	}
	if len(files) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many input files (%d)", mspack.ErrArgs, len(files))
	}
	timestamp := time.Now()
	if c.timestamp != 0 {
		timestamp = time.Unix(c.timestamp, 0)
	}
	date, clock := dosTimestamp(timestamp)

	var folders []*folderPlan
	var folder *folderPlan
	for i, input := range files {
		if input.Target == "" {
			return nil, fmt.Errorf("%w: file %d has no target name", mspack.ErrArgs, i)
		}
		name, utf := encodeName(input.Target)
		if len(name) > stringMax {
			return nil, fmt.Errorf("%w: target name %q is longer than %d bytes", mspack.ErrArgs, input.Target, stringMax)
		}
		size, err := c.sourceSize(input.Source)
		if err != nil {
			return nil, err
		}
		if folder == nil || input.NewFolder {
			folder = &folderPlan{compressionType: c.compressionType()}
			folders = append(folders, folder)
		}
		if folder.size+size > int64(folderMax)*blockMax {
			return nil, fmt.Errorf("%w: folder exceeds %d data blocks", mspack.ErrCrunch, folderMax)
		}
		attributes := input.Attributes &^ AttributeNameUtf
		if utf {
			attributes |= AttributeNameUtf
		}
		folder.files = append(folder.files, &plannedFile{
			source:     input.Source,
			name:       name,
			attributes: attributes,
			date:       date,
			time:       clock,
			offset:     uint32(folder.size),
			length:     uint32(size),
			folder:     folder,
		})
		folder.size += size
	}
	return folders, nil
}

func (c *Compressor) sourceSize(name string) (int64, error) {
	h, err := c.sys.Open(name, mspack.OpenRead)
	if err != nil {
		return 0, mspack.NewError(mspack.ErrOpen, "open", name, err)
	}
	defer c.sys.Close(h)
	size, err := fileSize(c.sys, h)
	if err != nil {
		return 0, err
	}
	if size > 0xFFFFFFFF {
		return 0, fmt.Errorf("%w: %s is too large", mspack.ErrArgs, name)
	}
	return size, nil
}

// encodeFolder reads the sources of folder as one stream and compresses it into data blocks.
func (c *Compressor) encodeFolder(folder *folderPlan) error {
	encoder, err := newBlockEncoder(folder.compressionType, c.density)
	if err != nil {
		return fmt.Errorf("%w: %w", mspack.ErrArgs, err)
	}
	buffer := c.sys.Alloc(blockMax)
	if buffer == nil {
		return fmt.Errorf("%w: input buffer", mspack.ErrNoMemory)
	}
	defer c.sys.Free(buffer)

	input := newMultiReader(c.sys, folder.files)
	defer input.Close()
	var total int64
	for {
		n, err := io.ReadFull(input, buffer)
		if n > 0 {
			data, encodeErr := encoder.Encode(buffer[:n])
			if encodeErr != nil {
				return fmt.Errorf("%w: %w", mspack.ErrCrunch, encodeErr)
			}
			if len(data) > inputMax {
				return fmt.Errorf("%w: block compressed to %d bytes, more than %d", mspack.ErrCrunch, len(data), inputMax)
			}
			folder.blocks = append(folder.blocks, encodedBlock{data: data, uncompressed: n})
			total += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if total != folder.size {
		return fmt.Errorf("%w: input files changed size while compressing", mspack.ErrRead)
	}
	return nil
}
