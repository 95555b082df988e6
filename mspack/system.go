// Package mspack holds the pieces shared by the cabinet engine and its codecs: the error taxonomy, the I/O and
// memory substrate every operation is routed through, and the compatibility probes.
package mspack

// OpenMode selects how System.Open treats the named file.
type OpenMode int

const (
	OpenRead   OpenMode = iota // existing file, read only
	OpenWrite                  // new or truncated file, write only
	OpenUpdate                 // existing file, read and write
	OpenAppend                 // existing file, writes go to the end
)

func (m OpenMode) String() string {
	switch m {
	case OpenRead:
		return "read"
	case OpenWrite:
		return "write"
	case OpenUpdate:
		return "update"
	case OpenAppend:
		return "append"
	}
	return "unknown"
}

// Whence is the reference point of System.Seek.
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Handle is an open file as returned by System.Open. Its contents belong to the System that created it.
type Handle any

// System is the capability set the cabinet engine performs all storage and heap access through.
type System interface {
	Open(name string, mode OpenMode) (Handle, error)
	Close(h Handle) error
	// Read follows io.Reader semantics: it returns io.EOF once no bytes are left.
	Read(h Handle, p []byte) (int, error)
	Write(h Handle, p []byte) (int, error)
	Seek(h Handle, offset int64, whence Whence) error
	Tell(h Handle) (int64, error)
	// Message reports a diagnostic. h may be nil when the message is not tied to a file.
	Message(h Handle, format string, args ...any)
	// Alloc returns a zeroed buffer of n bytes, or nil when memory is exhausted.
	Alloc(n int) []byte
	Free(b []byte)
	Copy(src, dst []byte, n int)
}

// HandleName returns the name a handle was opened with, for handles created by FileSystem or MemorySystem.
func HandleName(h Handle) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}
