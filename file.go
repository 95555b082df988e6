package cab

import (
	"io/fs"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// File is one logical entry of a cabinet set.
type File struct {
	// Name is the decoded file name: UTF-8 if AttributeNameUtf is set, ISO-8859-1 otherwise.
	Name string
	// RawName holds the name bytes as stored in the cabinet.
	RawName    []byte
	Length     uint32
	Offset     uint32 // uncompressed offset of the file data within its folder
	Attributes uint16
	Modified   Timestamp

	folder  *Folder
	cabinet *Cabinet

	fromPrevious bool
	toNext       bool
}

const (
	AttributeReadOnly = 0x1
	AttributeHidden   = 0x2
	AttributeSystem   = 0x4
	AttributeArch     = 0x20
	AttributeExec     = 0x40
	AttributeNameUtf  = 0x80
)

// Folder returns the folder holding the file's data.
func (f *File) Folder() *Folder {
	return f.folder
}

// Cabinet returns the cabinet part the file entry was read from.
func (f *File) Cabinet() *Cabinet {
	return f.cabinet
}

// ContinuedFromPrevious reports whether the file's data starts in an earlier cabinet of the set.
func (f *File) ContinuedFromPrevious() bool {
	return f.fromPrevious
}

// ContinuesToNext reports whether the file's data runs into a later cabinet of the set.
func (f *File) ContinuesToNext() bool {
	return f.toNext
}

func (f *File) Stat() fs.FileInfo {
	return FileInfo{f}
}

// Timestamp is the DOS date and time of a file, split into its fields.
type Timestamp struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

func (t Timestamp) Time() time.Time {
	return time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, 0, time.Local)
}

func parseCabTimestamp(cabDate uint16, cabTime uint16) Timestamp {
	// See https://docs.microsoft.com/en-us/previous-versions//bb267310(v=vs.85)#cffile
	// cabDate is ((year-1980) << 9)+(month << 5)+(day)
	// cabTime is (hour << 11)+(minute << 5)+(seconds/2)
	return Timestamp{
		Year:   int(cabDate>>9) + 1980,
		Month:  int(cabDate>>5) & 0b1111,
		Day:    int(cabDate) & 0b11111,
		Hour:   int(cabTime >> 11),
		Minute: int(cabTime>>5) & 0b111111,
		Second: int(cabTime&0b11111) * 2,
	}
}

// dosTimestamp is the inverse of parseCabTimestamp. Times outside the DOS range are clamped to it.
func dosTimestamp(t time.Time) (cabDate uint16, cabTime uint16) {
	year := t.Year()
	switch {
	case year < 1980:
		return 1<<5 | 1, 0
	case year > 2107:
		return 127<<9 | 12<<5 | 31, 23<<11 | 59<<5 | 29
	}
	cabDate = uint16(year-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	cabTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return cabDate, cabTime
}

func decodeName(raw []byte, attributes uint16) string {
	if attributes&AttributeNameUtf != 0 {
		if utf8.Valid(raw) {
			return string(raw)
		}
		return strings.ToValidUTF8(string(raw), "�")
	}
	name, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(name)
}

// encodeName returns the stored form of name and whether it needs AttributeNameUtf.
func encodeName(name string) ([]byte, bool) {
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return []byte(name), true
	}
	return encoded, false
}

type FileInfo struct {
	File *File
}

func (f FileInfo) Name() string {
	return path.Base(strings.ReplaceAll(f.File.Name, "\\", "/"))
}

func (f FileInfo) Size() int64 {
	return int64(f.File.Length)
}

func (f FileInfo) Mode() fs.FileMode {
	mode := fs.FileMode(0o644)
	if f.File.Attributes&AttributeReadOnly != 0 {
		mode = 0o444
	}
	if f.File.Attributes&AttributeExec != 0 {
		mode |= 0o111
	}
	return mode
}

func (f FileInfo) ModTime() time.Time {
	return f.File.Modified.Time()
}

func (f FileInfo) IsDir() bool {
	return false
}

func (f FileInfo) Sys() any {
	return f.File
}
