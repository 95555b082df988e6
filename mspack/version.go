package mspack

import "unsafe"

// Interface identifies a component for Version.
type Interface int

const (
	InterfaceLibrary Interface = iota
	InterfaceSystem
	InterfaceCABCompressor
	InterfaceCABDecompressor
	InterfaceCHMCompressor
	InterfaceCHMDecompressor
	InterfaceLITCompressor
	InterfaceLITDecompressor
	InterfaceHLPCompressor
	InterfaceHLPDecompressor
	InterfaceSZDDCompressor
	InterfaceSZDDDecompressor
	InterfaceKWAJCompressor
	InterfaceKWAJDecompressor
	InterfaceOABCompressor
	InterfaceOABDecompressor
)

// Version reports the interface version this module provides: -1 for unknown interfaces, 0 for interfaces that
// are known but not implemented, 1 or more for working ones.
func Version(iface Interface) int {
	switch iface {
	case InterfaceLibrary, InterfaceSystem, InterfaceCABCompressor, InterfaceCABDecompressor:
		return 1
	case InterfaceCHMCompressor, InterfaceCHMDecompressor,
		InterfaceLITCompressor, InterfaceLITDecompressor,
		InterfaceHLPCompressor, InterfaceHLPDecompressor,
		InterfaceSZDDCompressor, InterfaceSZDDDecompressor,
		InterfaceKWAJCompressor, InterfaceKWAJDecompressor,
		InterfaceOABCompressor, InterfaceOABDecompressor:
		return 0
	}
	return -1
}

// offsetWidth is the byte width the on-disk offsets are handled with.
const offsetWidth = 8

// SelfTest checks that file offsets are handled at the width the engine was built for.
func SelfTest() Code {
	return selfTest(int(unsafe.Sizeof(int64(0))))
}

func selfTest(width int) Code {
	if width != offsetWidth {
		return ErrSeek
	}
	return OK
}
