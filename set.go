package cab

// Cabinet is one physical cabinet. Once linked with other parts through Decompressor.Append or
// Decompressor.Prepend, every part of the set shares the same file and folder lists.
type Cabinet struct {
	// Filename is the name the cabinet was opened or found under.
	Filename string
	// BaseOffset is the position of the cabinet within Filename.
	BaseOffset int64
	// Length is the cabinet size declared by its header.
	Length int64
	Flags  uint16

	VersionMajor byte
	VersionMinor byte

	ReservedHeaderBlock []byte
	MultiCabinetInfo

	set           *cabinetSet
	previous      *Cabinet
	next          *Cabinet
	searchNext    *Cabinet
	searchHead    *Cabinet
	owner         *Decompressor
	closed        bool
	folderReserve int
	blockReserve  int
}

type MultiCabinetInfo struct {
	PreviousFile string
	PreviousDisk string
	NextFile     string
	NextDisk     string
	SetID        uint16 // ID of this multi-cabinet set; should be the same in all files in the set
	SetIndex     uint16 // Index of this cabinet in the multi-cabinet set
}

// cabinetSet owns the directory shared by all linked parts. members are ordered by set index.
type cabinetSet struct {
	folders []*Folder
	files   []*File
	members []*Cabinet
}

// Files returns the files of the whole cabinet set in order.
func (c *Cabinet) Files() []*File {
	if c.set == nil {
		return nil
	}
	return c.set.files
}

// Folders returns the folders of the whole cabinet set in order.
func (c *Cabinet) Folders() []*Folder {
	if c.set == nil {
		return nil
	}
	return c.set.folders
}

// HeaderReserved returns the size of the vendor reserved header area.
func (c *Cabinet) HeaderReserved() int {
	return len(c.ReservedHeaderBlock)
}

// Next returns the next cabinet found by Decompressor.Search, or nil.
func (c *Cabinet) Next() *Cabinet {
	return c.searchNext
}

// Predecessor returns the cabinet linked before c, or nil.
func (c *Cabinet) Predecessor() *Cabinet {
	return c.previous
}

// Successor returns the cabinet linked after c, or nil.
func (c *Cabinet) Successor() *Cabinet {
	return c.next
}

// Parts returns every cabinet of c's set in order.
func (c *Cabinet) Parts() []*Cabinet {
	if c.set == nil {
		return nil
	}
	return append([]*Cabinet(nil), c.set.members...)
}

// Closed reports whether the cabinet was released by Decompressor.Close.
func (c *Cabinet) Closed() bool {
	return c.closed
}

func (c *Cabinet) first() *Cabinet {
	return c.set.members[0]
}

func (c *Cabinet) last() *Cabinet {
	return c.set.members[len(c.set.members)-1]
}
