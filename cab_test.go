package cab

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/secDre4mer/go-mspack/mspack"
)

// testData returns n bytes mixing runs of text with noise, so every codec has something to do.
func testData(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	var buf bytes.Buffer
	for buf.Len() < n {
		if rng.Intn(3) == 0 {
			noise := make([]byte, rng.Intn(200))
			rng.Read(noise)
			buf.Write(noise)
		} else {
			fmt.Fprintf(&buf, "line %d of the test data, seed %d\n", rng.Intn(1000), seed)
		}
	}
	return buf.Bytes()[:n]
}

type testInput struct {
	name      string
	data      []byte
	newFolder bool
}

// generate writes inputs to sys and compresses them into output.
func generate(t *testing.T, sys *mspack.MemorySystem, output string, inputs []testInput, params map[CompressorParam]int) {
	t.Helper()
	compressor := NewCompressor(sys)
	for param, value := range params {
		if err := compressor.SetParam(param, value); err != nil {
			t.Fatal(err)
		}
	}
	var files []InputFile
	for _, input := range inputs {
		source := "src/" + input.name
		sys.WriteFile(source, input.data)
		files = append(files, InputFile{Source: source, Target: input.name, NewFolder: input.newFolder})
	}
	if err := compressor.Generate(files, output); err != nil {
		t.Fatal(err)
	}
}

func extractFile(t *testing.T, d *Decompressor, file *File) []byte {
	t.Helper()
	sys := d.System().(*mspack.MemorySystem)
	dest := "out/" + file.Name
	if err := d.Extract(file, dest); err != nil {
		t.Fatal(err)
	}
	data, err := sys.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func checkCode(t *testing.T, err error, code mspack.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got no error", code)
	}
	if !errors.Is(err, code) {
		t.Fatalf("expected %v, got %v", code, err)
	}
}

var roundTripInputs = []testInput{
	{name: "readme.txt", data: []byte("cabinet test\r\n")},
	{name: "empty.dat", data: nil},
	{name: "large.bin", data: testData(100000, 1)},
	{name: "dir\\nested.bin", data: testData(40000, 2), newFolder: true},
	{name: "tail.txt", data: testData(5000, 3)},
}

func TestRoundTrip(t *testing.T) {
	for _, test := range []struct {
		name   string
		params map[CompressorParam]int
		method int
	}{
		{"store", map[CompressorParam]int{ParamCompression: CompressionNone}, CompressionNone},
		{"mszip", map[CompressorParam]int{ParamCompression: CompressionMSZIP, ParamDensity: 9}, CompressionMSZIP},
		{"lzx", map[CompressorParam]int{ParamCompression: CompressionLZX, ParamWindow: 15}, CompressionLZX},
		{"lzx-large-window", map[CompressorParam]int{ParamCompression: CompressionLZX, ParamWindow: 21}, CompressionLZX},
		{"no-checksums", map[CompressorParam]int{ParamChecksums: 0}, CompressionMSZIP},
	} {
		t.Run(test.name, func(t *testing.T) {
			sys := mspack.NewMemorySystem()
			generate(t, sys, "test.cab", roundTripInputs, test.params)

			d := NewDecompressor(sys)
			cab, err := d.Open("test.cab")
			if err != nil {
				t.Fatal(err)
			}
			if len(cab.Folders()) != 2 {
				t.Fatalf("expected 2 folders, got %d", len(cab.Folders()))
			}
			for _, folder := range cab.Folders() {
				if folder.Method() != test.method {
					t.Fatal(folder.Method())
				}
				if folder.NeedsNext() || folder.NeedsPrevious() {
					t.Fatal("single cabinet folder is continued")
				}
			}
			if len(cab.Files()) != len(roundTripInputs) {
				t.Fatalf("expected %d files, got %d", len(roundTripInputs), len(cab.Files()))
			}
			for i, file := range cab.Files() {
				input := roundTripInputs[i]
				if file.Name != input.name {
					t.Fatalf("expected %s, got %s", input.name, file.Name)
				}
				if int(file.Length) != len(input.data) {
					t.Fatalf("%s: expected length %d, got %d", file.Name, len(input.data), file.Length)
				}
				if uint64(file.Offset)+uint64(file.Length) > uint64(file.Folder().NumBlocks())*blockMax {
					t.Fatalf("%s lies beyond its folder", file.Name)
				}
				if !bytes.Equal(extractFile(t, d, file), input.data) {
					t.Fatalf("%s: extracted data differs", file.Name)
				}
			}
			if d.LastError() != mspack.OK {
				t.Fatal(d.LastError())
			}
			if err := d.Close(cab); err != nil {
				t.Fatal(err)
			}
			if sys.OpenHandles() != 0 {
				t.Fatalf("%d handles left open", sys.OpenHandles())
			}
		})
	}
}

func TestExtractOutOfOrder(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", roundTripInputs, map[CompressorParam]int{ParamCompression: CompressionLZX})
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	files := cab.Files()
	for _, i := range []int{4, 2, 0, 3, 2, 1} {
		if !bytes.Equal(extractFile(t, d, files[i]), roundTripInputs[i].data) {
			t.Fatalf("%s: extracted data differs", files[i].Name)
		}
	}
}

func TestOpenFile(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", roundTripInputs, nil)
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	var readers []io.ReadCloser
	for _, file := range cab.Files() {
		reader, err := d.OpenFile(file)
		if err != nil {
			t.Fatal(err)
		}
		readers = append(readers, reader)
	}
	// Read in reverse to make sure every reader has its own state.
	for i := len(readers) - 1; i >= 0; i-- {
		data, err := io.ReadAll(readers[i])
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, roundTripInputs[i].data) {
			t.Fatalf("%s: data differs", roundTripInputs[i].name)
		}
		if err := readers[i].Close(); err != nil {
			t.Fatal(err)
		}
	}
	if sys.OpenHandles() != 0 {
		t.Fatalf("%d handles left open", sys.OpenHandles())
	}
}

func TestOpenFileAfterClose(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", roundTripInputs, nil)
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	reader, err := d.OpenFile(cab.Files()[2])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.Read(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(cab); err != nil {
		t.Fatal(err)
	}
	_, err = reader.Read(make([]byte, 100))
	checkCode(t, err, mspack.ErrArgs)
	if err := reader.Close(); err != nil {
		t.Fatal(err)
	}
	if sys.OpenHandles() != 0 {
		t.Fatalf("%d handles left open", sys.OpenHandles())
	}
}

func TestSetParamResetsStream(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", roundTripInputs, nil)
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	files := cab.Files()
	extractFile(t, d, files[0])
	if d.stream == nil {
		t.Fatal("expected the folder stream to be kept")
	}
	if err := d.SetParam(ParamFixMSZIP, 0); err != nil {
		t.Fatal(err)
	}
	if d.stream == nil {
		t.Fatal("unchanged parameter dropped the folder stream")
	}
	if err := d.SetParam(ParamFixMSZIP, 1); err != nil {
		t.Fatal(err)
	}
	if d.stream != nil {
		t.Fatal("folder stream kept after changing ParamFixMSZIP")
	}

	extractFile(t, d, files[1])
	if d.stream == nil || !d.stream.fixMSZIP {
		t.Fatal("new folder stream does not use the current parameters")
	}
	if err := d.SetParam(ParamDecompressionBuffer, d.Param(ParamDecompressionBuffer)*2); err != nil {
		t.Fatal(err)
	}
	if d.stream != nil {
		t.Fatal("folder stream kept after changing ParamDecompressionBuffer")
	}
	if data := extractFile(t, d, files[2]); !bytes.Equal(data, roundTripInputs[2].data) {
		t.Fatal("data differs")
	}
	if d.stream.bufSize != d.Param(ParamDecompressionBuffer) {
		t.Fatal(d.stream.bufSize)
	}
}

func TestHeaderFields(t *testing.T) {
	sys := mspack.NewMemorySystem()
	timestamp := time.Date(2021, 11, 2, 14, 34, 56, 0, time.Local)
	generate(t, sys, "test.cab", []testInput{{name: "test.yml", data: []byte("a: b\n")}}, map[CompressorParam]int{
		ParamTimestamp: int(timestamp.Unix()),
		ParamLanguage:  0x0409,
		ParamSetID:     1234,
	})
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	if cab.Flags&FlagReserve == 0 || cab.HeaderReserved() != 2 {
		t.Fatalf("expected reserved header, flags %x", cab.Flags)
	}
	if binary.LittleEndian.Uint16(cab.ReservedHeaderBlock) != 0x0409 {
		t.Fatal(cab.ReservedHeaderBlock)
	}
	if cab.SetID != 1234 || cab.SetIndex != 0 {
		t.Fatal(cab.SetID, cab.SetIndex)
	}
	if cab.VersionMajor != 1 || cab.VersionMinor != 3 {
		t.Fatal(cab.VersionMajor, cab.VersionMinor)
	}
	if cab.Predecessor() != nil || cab.Successor() != nil || cab.Next() != nil {
		t.Fatal("single cabinet has links")
	}
	file := cab.Files()[0]
	if !file.Modified.Time().Equal(timestamp) {
		t.Fatal(file.Modified)
	}
	if file.Stat().Name() != "test.yml" || file.Stat().Size() != 5 {
		t.Fatal(file.Stat())
	}
}

func TestFileNameEncoding(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", []testInput{
		{name: "café.txt", data: []byte("latin")},
		{name: "日本.txt", data: []byte("utf")},
	}, nil)
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	latin, utf := cab.Files()[0], cab.Files()[1]
	if latin.Name != "café.txt" || latin.Attributes&AttributeNameUtf != 0 || len(latin.RawName) != 8 {
		t.Fatalf("%q %x %v", latin.Name, latin.Attributes, latin.RawName)
	}
	if utf.Name != "日本.txt" || utf.Attributes&AttributeNameUtf == 0 {
		t.Fatalf("%q %x", utf.Name, utf.Attributes)
	}
}

func TestOpenErrors(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "good.cab", []testInput{{name: "a.txt", data: testData(1000, 4)}}, nil)
	good, _ := sys.ReadFile("good.cab")

	badSignature := append([]byte("MSCX"), good[4:]...)
	sys.WriteFile("signature.cab", badSignature)
	sys.WriteFile("short.cab", good[:20])
	sys.WriteFile("truncated.cab", good[:headerSize+4])

	beyondFolder := append([]byte(nil), good...)
	filesOffset := binary.LittleEndian.Uint32(beyondFolder[16:])
	binary.LittleEndian.PutUint32(beyondFolder[filesOffset:], 0x7FFFFFFF)
	sys.WriteFile("capacity.cab", beyondFolder)

	noFiles := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(noFiles[28:], 0)
	sys.WriteFile("nofiles.cab", noFiles)

	badFolder := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badFolder[filesOffset+8:], 5)
	sys.WriteFile("folderindex.cab", badFolder)

	blockCount := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(blockCount[headerSize+4:], 0xFFFF)
	sys.WriteFile("datacount.cab", blockCount)

	// Many folders pointing at the same data blocks.
	const folderCount = 1000
	dataStart := binary.LittleEndian.Uint32(good[headerSize:])
	shift := uint32(folderCount-1) * 8
	var shared bytes.Buffer
	shared.Write(good[:headerSize])
	for i := 0; i < folderCount; i++ {
		folder := append([]byte(nil), good[headerSize:headerSize+8]...)
		binary.LittleEndian.PutUint32(folder, dataStart+shift)
		shared.Write(folder)
	}
	shared.Write(good[filesOffset:])
	sharedData := shared.Bytes()
	binary.LittleEndian.PutUint32(sharedData[8:], uint32(len(sharedData)))
	binary.LittleEndian.PutUint32(sharedData[16:], filesOffset+shift)
	binary.LittleEndian.PutUint16(sharedData[26:], folderCount)
	sys.WriteFile("shareddata.cab", sharedData)

	d := NewDecompressor(sys)
	for _, test := range []struct {
		name string
		code mspack.Code
	}{
		{"missing.cab", mspack.ErrOpen},
		{"signature.cab", mspack.ErrSignature},
		{"short.cab", mspack.ErrRead},
		{"truncated.cab", mspack.ErrRead},
		{"capacity.cab", mspack.ErrDataFormat},
		{"nofiles.cab", mspack.ErrDataFormat},
		{"folderindex.cab", mspack.ErrDataFormat},
		{"datacount.cab", mspack.ErrDataFormat},
		{"shareddata.cab", mspack.ErrDataFormat},
	} {
		t.Run(test.name, func(t *testing.T) {
			cab, err := d.Open(test.name)
			if cab != nil {
				t.Fatal("expected no cabinet")
			}
			checkCode(t, err, test.code)
			if d.LastError() != test.code {
				t.Fatal(d.LastError())
			}
			if mspack.CodeOf(err) != test.code {
				t.Fatal(mspack.CodeOf(err))
			}
		})
	}
	if sys.OpenHandles() != 0 {
		t.Fatalf("%d handles left open", sys.OpenHandles())
	}
}

func TestVersionWarning(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", []testInput{{name: "a.txt", data: []byte("abc")}}, nil)
	data, _ := sys.ReadFile("test.cab")
	data[24] = 2
	sys.WriteFile("test.cab", data)
	d := NewDecompressor(sys)
	if _, err := d.Open("test.cab"); err != nil {
		t.Fatal(err)
	}
	messages := sys.Messages()
	if len(messages) != 1 || !strings.Contains(messages[0], "cabinet version is not 1.3") {
		t.Fatal(messages)
	}
}

func TestChecksumMismatch(t *testing.T) {
	for _, test := range []struct {
		name        string
		compression int
		fix         int
		code        mspack.Code
	}{
		{"store", CompressionNone, 0, mspack.ErrChecksum},
		{"store-fix", CompressionNone, 1, mspack.ErrChecksum},
		{"mszip", CompressionMSZIP, 0, mspack.ErrChecksum},
		{"mszip-fix", CompressionMSZIP, 1, mspack.OK},
	} {
		t.Run(test.name, func(t *testing.T) {
			sys := mspack.NewMemorySystem()
			content := testData(3000, 5)
			generate(t, sys, "test.cab", []testInput{{name: "a.txt", data: content}},
				map[CompressorParam]int{ParamCompression: test.compression})
			data, _ := sys.ReadFile("test.cab")
			dataOffset := binary.LittleEndian.Uint32(data[headerSize:])
			data[dataOffset] ^= 0xFF // stored checksum
			sys.WriteFile("test.cab", data)

			d := NewDecompressor(sys)
			if err := d.SetParam(ParamFixMSZIP, test.fix); err != nil {
				t.Fatal(err)
			}
			cab, err := d.Open("test.cab")
			if err != nil {
				t.Fatal(err)
			}
			err = d.Extract(cab.Files()[0], "out")
			if test.code != mspack.OK {
				checkCode(t, err, test.code)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			extracted, _ := sys.ReadFile("out")
			if !bytes.Equal(extracted, content) {
				t.Fatal("extracted data differs")
			}
			if len(sys.Messages()) == 0 {
				t.Fatal("expected a checksum warning")
			}
		})
	}
}

func TestExtractErrors(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", []testInput{{name: "a.txt", data: testData(1000, 6)}},
		map[CompressorParam]int{ParamCompression: CompressionNone})
	data, _ := sys.ReadFile("test.cab")
	binary.LittleEndian.PutUint16(data[headerSize+6:], CompressionQuantum)
	sys.WriteFile("quantum.cab", data)

	d := NewDecompressor(sys)
	checkCode(t, d.Extract(nil, "out"), mspack.ErrArgs)

	quantum, err := d.Open("quantum.cab")
	if err != nil {
		t.Fatal(err)
	}
	checkCode(t, d.Extract(quantum.Files()[0], "out"), mspack.ErrDecrunch)
	if sys.Exists("out") {
		t.Fatal("destination created for an unsupported folder")
	}

	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	file := cab.Files()[0]
	other := NewDecompressor(sys)
	checkCode(t, other.Extract(file, "out"), mspack.ErrArgs)
	if err := d.Close(cab); err != nil {
		t.Fatal(err)
	}
	checkCode(t, d.Extract(file, "out"), mspack.ErrArgs)
	if d.LastError() != mspack.ErrArgs {
		t.Fatal(d.LastError())
	}
}

func TestAllocationFailure(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", []testInput{{name: "a.txt", data: testData(1000, 7)}}, nil)
	sys.AllocLimit = 1000
	d := NewDecompressor(sys)
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	checkCode(t, d.Extract(cab.Files()[0], "out"), mspack.ErrNoMemory)
	if sys.Exists("out") {
		t.Fatal("destination created without buffers")
	}
	_, err = d.Search("test.cab")
	checkCode(t, err, mspack.ErrNoMemory)
}

func TestSmallDecompressionBuffer(t *testing.T) {
	sys := mspack.NewMemorySystem()
	generate(t, sys, "test.cab", roundTripInputs, nil)
	d := NewDecompressor(sys)
	if err := d.SetParam(ParamDecompressionBuffer, minDecompressionBuffer); err != nil {
		t.Fatal(err)
	}
	cab, err := d.Open("test.cab")
	if err != nil {
		t.Fatal(err)
	}
	file := cab.Files()[2]
	if !bytes.Equal(extractFile(t, d, file), roundTripInputs[2].data) {
		t.Fatal("extracted data differs")
	}
}

func TestSetParam(t *testing.T) {
	d := NewDecompressor(mspack.NewMemorySystem())
	for _, test := range []struct {
		param Param
		value int
		ok    bool
	}{
		{ParamSearchBuffer, 35, false},
		{ParamSearchBuffer, 36, true},
		{ParamFixMSZIP, 2, false},
		{ParamFixMSZIP, 1, true},
		{ParamDecompressionBuffer, 3, false},
		{ParamDecompressionBuffer, 4, true},
		{Param(17), 1, false},
	} {
		previous := d.Param(test.param)
		err := d.SetParam(test.param, test.value)
		if test.ok {
			if err != nil || d.Param(test.param) != test.value {
				t.Fatalf("param %d = %d: %v", test.param, test.value, err)
			}
			continue
		}
		checkCode(t, err, mspack.ErrArgs)
		if d.Param(test.param) != previous {
			t.Fatalf("param %d changed after a rejected value", test.param)
		}
		if d.LastError() != mspack.ErrArgs {
			t.Fatal(d.LastError())
		}
	}
}

func TestFileSystemRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := mspack.NewFileSystem()
	input := dir + "/input.txt"
	h, err := fs.Open(input, mspack.OpenWrite)
	if err != nil {
		t.Fatal(err)
	}
	content := testData(50000, 8)
	if _, err := fs.Write(h, content); err != nil {
		t.Fatal(err)
	}
	fs.Close(h)

	if err := NewCompressor(nil).Generate([]InputFile{{Source: input, Target: "input.txt"}}, dir+"/test.cab"); err != nil {
		t.Fatal(err)
	}
	d := NewDecompressor(nil)
	cab, err := d.Open(dir + "/test.cab")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close(cab)
	reader, err := d.OpenFile(cab.Files()[0])
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	extracted, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(extracted, content) {
		t.Fatal("extracted data differs")
	}
}
