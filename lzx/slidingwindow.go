package lzx

// slidingWindow implements a window of n bytes where old bytes are replaced with new ones. Old bytes within the last
// window size can be looked up again.
type slidingWindow struct {
	windowData []byte

	position int
	// total number of bytes ever added
	written int64
}

func newWindow(size int) *slidingWindow {
	return &slidingWindow{
		windowData: make([]byte, size),
		position:   0,
	}
}

func (s *slidingWindow) Lookback(offset int) byte {
	return s.windowData[(s.position-offset+len(s.windowData))%len(s.windowData)]
}

func (s *slidingWindow) Add(b byte) {
	s.windowData[s.position] = b
	s.position = (s.position + 1) % len(s.windowData)
	s.written++
}

// AddBytes appends p, which must not run past the end of the window.
func (s *slidingWindow) AddBytes(p []byte) {
	copy(s.windowData[s.position:], p)
	s.position = (s.position + len(p)) % len(s.windowData)
	s.written += int64(len(p))
}

// Copy repeats length bytes starting offset bytes back. Source and destination may overlap.
func (s *slidingWindow) Copy(offset, length int) {
	for ; length > 0; length-- {
		s.Add(s.Lookback(offset))
	}
}

// Slice returns n bytes starting at absolute window position start.
func (s *slidingWindow) Slice(start, n int) []byte {
	return s.windowData[start : start+n]
}

func (s *slidingWindow) Size() int {
	return len(s.windowData)
}
