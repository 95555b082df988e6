package mspack

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCodeIsError(t *testing.T) {
	err := NewError(ErrSignature, "open", "a.cab", nil)
	if !errors.Is(err, ErrSignature) {
		t.Fatal("expected signature error")
	}
	if errors.Is(err, ErrRead) {
		t.Fatal("unexpected read error match")
	}
	if CodeOf(err) != ErrSignature {
		t.Fatal(CodeOf(err))
	}
	if CodeOf(nil) != OK {
		t.Fatal("nil is not OK")
	}
	if CodeOf(ErrChecksum) != ErrChecksum {
		t.Fatal("bare code not recognised")
	}
	if err.Error() != "open a.cab: bad signature" {
		t.Fatal(err.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := NewError(ErrRead, "open", "a.cab", cause)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("cause lost")
	}
	if !strings.Contains(err.Error(), "unexpected EOF") {
		t.Fatal(err.Error())
	}
	if Code(42).String() != "unknown error 42" {
		t.Fatal(Code(42).String())
	}
}

func TestMemorySystem(t *testing.T) {
	sys := NewMemorySystem()
	h, err := sys.Open("out", OpenWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sys.Write(h, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := sys.Seek(h, 6, SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := sys.Write(h, []byte("there")); err != nil {
		t.Fatal(err)
	}
	if pos, _ := sys.Tell(h); pos != 11 {
		t.Fatal(pos)
	}
	if err := sys.Close(h); err != nil {
		t.Fatal(err)
	}
	if err := sys.Close(h); !errors.Is(err, fs.ErrClosed) {
		t.Fatal("double close not rejected", err)
	}

	h, err = sys.Open("out", OpenAppend)
	if err != nil {
		t.Fatal(err)
	}
	sys.Write(h, []byte("!"))
	sys.Close(h)

	h, err = sys.Open("out", OpenRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Seek(h, -6, SeekEnd); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := sys.Read(h, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "there!" {
		t.Fatal(string(buf[:n]))
	}
	if _, err := sys.Read(h, buf); err != io.EOF {
		t.Fatal("expected EOF", err)
	}
	if _, err := sys.Write(h, buf); err == nil {
		t.Fatal("write on read handle")
	}
	sys.Close(h)
	if sys.OpenHandles() != 0 {
		t.Fatal("handles leaked")
	}

	if _, err := sys.Open("missing", OpenRead); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal(err)
	}
	if _, err := sys.Open("missing", OpenUpdate); err == nil {
		t.Fatal("update on missing file")
	}
}

func TestMemorySystemAllocLimit(t *testing.T) {
	sys := NewMemorySystem()
	sys.AllocLimit = 100
	a := sys.Alloc(60)
	if len(a) != 60 {
		t.Fatal("alloc failed")
	}
	if sys.Alloc(60) != nil {
		t.Fatal("limit not enforced")
	}
	sys.Free(a)
	if sys.Alloc(60) == nil {
		t.Fatal("free did not release")
	}
	dst := make([]byte, 4)
	sys.Copy([]byte{1, 2, 3, 4, 5}, dst, 3)
	if dst[2] != 3 || dst[3] != 0 {
		t.Fatal(dst)
	}
}

func TestMemorySystemMessages(t *testing.T) {
	sys := NewMemorySystem()
	sys.WriteFile("a.cab", []byte{1})
	h, _ := sys.Open("a.cab", OpenRead)
	sys.Message(h, "bad block %d", 3)
	sys.Message(nil, "plain")
	msgs := sys.Messages()
	if len(msgs) != 2 || msgs[0] != "a.cab: bad block 3" || msgs[1] != "plain" {
		t.Fatal(msgs)
	}
}

func TestFileSystem(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "data.bin")
	var logged strings.Builder
	sys := &FileSystem{Logger: slog.New(slog.NewTextHandler(&logged, nil))}

	h, err := sys.Open(name, OpenWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sys.Write(h, []byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	sys.Close(h)

	h, err = sys.Open(name, OpenRead)
	if err != nil {
		t.Fatal(err)
	}
	defer sys.Close(h)
	if err := sys.Seek(h, 2, SeekStart); err != nil {
		t.Fatal(err)
	}
	if err := sys.Seek(h, 1, SeekCurrent); err != nil {
		t.Fatal(err)
	}
	if pos, _ := sys.Tell(h); pos != 3 {
		t.Fatal(pos)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(readerFunc(func(p []byte) (int, error) { return sys.Read(h, p) }), buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "def" {
		t.Fatal(string(buf))
	}
	sys.Message(h, "warning %s", "here")
	if !strings.Contains(logged.String(), "warning here") || !strings.Contains(logged.String(), "data.bin") {
		t.Fatal(logged.String())
	}

	if _, err := sys.Open(filepath.Join(dir, "missing"), OpenRead); !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	if err := sys.Close("not a handle"); err == nil {
		t.Fatal("foreign handle accepted")
	}
}

func TestFileSystemMaxAlloc(t *testing.T) {
	sys := &FileSystem{MaxAlloc: 10}
	a := sys.Alloc(8)
	if a == nil {
		t.Fatal("alloc failed")
	}
	if sys.Alloc(8) != nil {
		t.Fatal("limit not enforced")
	}
	sys.Free(a)
	if sys.Alloc(8) == nil {
		t.Fatal("free did not release")
	}
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestSelfTestAndVersion(t *testing.T) {
	if SelfTest() != OK {
		t.Fatal("self test failed")
	}
	if selfTest(4) != ErrSeek {
		t.Fatal("narrow offsets accepted")
	}
	if Version(InterfaceCABDecompressor) != 1 || Version(InterfaceSystem) != 1 {
		t.Fatal("cab interfaces not functional")
	}
	if Version(InterfaceCHMDecompressor) != 0 {
		t.Fatal("chm should be known but not implemented")
	}
	if Version(Interface(99)) != -1 {
		t.Fatal("unknown interface")
	}
}
