package cab

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/secDre4mer/go-mspack/mspack"
)

// Append links next after cab. Both must be open, cab must be the last part of its set and next the first part
// of its own. On failure neither cabinet is changed.
func (d *Decompressor) Append(cab, next *Cabinet) error {
	return d.finish("append", cabinetName(next), d.link(cab, next), mspack.ErrArgs)
}

// Prepend links previous before cab. It is Append with the roles swapped.
func (d *Decompressor) Prepend(cab, previous *Cabinet) error {
	return d.finish("prepend", cabinetName(previous), d.link(previous, cab), mspack.ErrArgs)
}

func cabinetName(cab *Cabinet) string {
	if cab == nil {
		return ""
	}
	return cab.Filename
}

// folderMerge describes how the boundary folders of two sets are joined.
type folderMerge struct {
	left, right *Folder
	blocks      []*dataBlock
	// duplicates maps right-hand continuation entries to the left-hand entries they repeat.
	duplicates map[*File]*File
}

func (d *Decompressor) link(left, right *Cabinet) error {
	if err := d.checkCabinet(left); err != nil {
		return err
	}
	if err := d.checkCabinet(right); err != nil {
		return err
	}
	switch {
	case left == right:
		return errors.New("cannot link a cabinet to itself")
	case left.set == right.set:
		return errors.New("cabinets already belong to the same set")
	case left.next != nil:
		return fmt.Errorf("%s already has a successor", left.Filename)
	case right.previous != nil:
		return fmt.Errorf("%s already has a predecessor", right.Filename)
	}

	if left.Flags&nextCabinetExists == 0 {
		return dataFormatError("%s does not declare a next cabinet", left.Filename)
	}
	if right.Flags&previousCabinetExists == 0 {
		return dataFormatError("%s does not declare a previous cabinet", right.Filename)
	}
	if left.SetID != right.SetID {
		return dataFormatError("set IDs differ (%d, %d)", left.SetID, right.SetID)
	}
	if uint32(right.SetIndex) != uint32(left.SetIndex)+1 {
		return dataFormatError("set index %d does not follow %d", right.SetIndex, left.SetIndex)
	}

	merge, err := planFolderMerge(left.set, right.set)
	if err != nil {
		return err
	}

	if left.NextFile != "" && !sameName(left.NextFile, baseName(right.Filename)) {
		d.sys.Message(nil, "WARNING; %s expects next cabinet %q, linking %q", left.Filename, left.NextFile, right.Filename)
	}
	if right.PreviousFile != "" && !sameName(right.PreviousFile, baseName(left.Filename)) {
		d.sys.Message(nil, "WARNING; %s expects previous cabinet %q, linking %q", right.Filename, right.PreviousFile, left.Filename)
	}

	if d.stream != nil && (d.stream.folder.cabinet.set == left.set || d.stream.folder.cabinet.set == right.set) {
		d.stream.close()
		d.stream = nil
	}
	applyMerge(left, right, merge)
	return nil
}

func baseName(name string) string {
	return path.Base(filepath.ToSlash(name))
}

// planFolderMerge validates that the last folder of left can be joined with the first folder of right, without
// changing either set.
func planFolderMerge(left, right *cabinetSet) (*folderMerge, error) {
	lfol := left.folders[len(left.folders)-1]
	rfol := right.folders[0]
	if !lfol.continuesToNext && !rfol.continuedFromPrevious {
		return nil, nil
	}
	if lfol.continuesToNext != rfol.continuedFromPrevious {
		return nil, dataFormatError("folder continuation does not match between cabinets")
	}
	if lfol.CompressionType != rfol.CompressionType {
		return nil, dataFormatError("continued folder changes compression type (%#x, %#x)", lfol.CompressionType, rfol.CompressionType)
	}

	merge := &folderMerge{left: lfol, right: rfol, duplicates: map[*File]*File{}}
	switch {
	case len(lfol.blocks) == 0 || lfol.blocks[len(lfol.blocks)-1].complete():
		merge.blocks = append(append([]*dataBlock(nil), lfol.blocks...), rfol.blocks...)
	case len(rfol.blocks) == 0:
		return nil, dataFormatError("split data block has no continuation in %s", rfol.cabinet.Filename)
	default:
		lastBlock := lfol.blocks[len(lfol.blocks)-1]
		joined := &dataBlock{pieces: append(append([]dataPiece(nil), lastBlock.pieces...), rfol.blocks[0].pieces...)}
		if joined.compressed() > inputMax {
			return nil, dataFormatError("joined data block of %d bytes exceeds %d", joined.compressed(), inputMax)
		}
		merge.blocks = append(append([]*dataBlock(nil), lfol.blocks[:len(lfol.blocks)-1]...), joined)
		merge.blocks = append(merge.blocks, rfol.blocks[1:]...)
	}
	if len(merge.blocks) > folderMax {
		return nil, dataFormatError("merged folder has %d data blocks, more than %d", len(merge.blocks), folderMax)
	}

	var leftContinued, rightContinued []*File
	for _, file := range lfol.files(left) {
		if file.toNext {
			leftContinued = append(leftContinued, file)
		}
	}
	for _, file := range rfol.files(right) {
		if file.fromPrevious {
			rightContinued = append(rightContinued, file)
		}
	}
	if len(leftContinued) != len(rightContinued) {
		return nil, dataFormatError("continued folders list %d and %d files", len(leftContinued), len(rightContinued))
	}
	for i, l := range leftContinued {
		r := rightContinued[i]
		if l.Offset != r.Offset || l.Length != r.Length {
			return nil, dataFormatError("continued file %q does not match %q", l.Name, r.Name)
		}
		merge.duplicates[r] = l
	}

	if !lfol.continuedFromPrevious && !rfol.continuesToNext {
		capacity := uint64(len(merge.blocks)) * blockMax
		for _, file := range append(lfol.files(left), rfol.files(right)...) {
			if uint64(file.Offset)+uint64(file.Length) > capacity {
				return nil, dataFormatError("file %q lies beyond the end of the merged folder", file.Name)
			}
		}
	}
	return merge, nil
}

func applyMerge(left, right *Cabinet, merge *folderMerge) {
	set, other := left.set, right.set
	rightFolders := other.folders
	if merge != nil {
		merge.left.blocks = merge.blocks
		merge.left.continuesToNext = merge.right.continuesToNext
		rightFolders = rightFolders[1:]
	}
	for _, file := range other.files {
		if merge != nil {
			if l, ok := merge.duplicates[file]; ok {
				l.toNext = file.toNext
				continue
			}
			if file.folder == merge.right {
				file.folder = merge.left
			}
		}
		set.files = append(set.files, file)
	}
	set.folders = append(set.folders, rightFolders...)
	for _, member := range other.members {
		member.set = set
	}
	set.members = append(set.members, other.members...)
	left.next = right
	right.previous = left
}

// OpenSet opens name and then every cabinet reachable through the previous and next cabinet names stored in the
// headers, linking them into one set. Cabinets that cannot be opened or linked end the search in that direction
// with a warning. The returned cabinet is the one named by name.
func (d *Decompressor) OpenSet(name string) (*Cabinet, error) {
	cab, err := d.open(name)
	if err != nil {
		return nil, d.finish("open_set", name, err, mspack.ErrRead)
	}
	cab.owner = d
	dir := filepath.Dir(name)

	for first := cab; first.Flags&previousCabinetExists != 0 && first.PreviousFile != ""; first = first.previous {
		if !d.joinSibling(first, filepath.Join(dir, first.PreviousFile), false) {
			break
		}
	}
	for last := cab; last.Flags&nextCabinetExists != 0 && last.NextFile != ""; last = last.next {
		if !d.joinSibling(last, filepath.Join(dir, last.NextFile), true) {
			break
		}
	}
	d.lastError = mspack.OK
	return cab, nil
}

func (d *Decompressor) joinSibling(cab *Cabinet, name string, after bool) bool {
	sibling, err := d.open(name)
	if err != nil {
		d.sys.Message(nil, "WARNING; cannot open %s: %v", name, err)
		return false
	}
	if after {
		err = d.link(cab, sibling)
	} else {
		err = d.link(sibling, cab)
	}
	if err != nil {
		d.sys.Message(nil, "WARNING; cannot link %s: %v", name, strings.TrimSpace(err.Error()))
		sibling.release()
		return false
	}
	return true
}
