package lzss

// ring is the sliding window shared by the encoder and the decoder. Positions are
// absolute stream positions; they are reduced modulo the window size on access.
type ring struct {
	buf [WindowSize]byte
}

// newRing returns a window in its initial state: the slots before startPos hold
// spaces, which both ends assume without transmitting them.
func newRing() *ring {
	r := &ring{}
	for i := 0; i < startPos; i++ {
		r.buf[i] = ' '
	}
	return r
}

func (r *ring) at(pos int) byte {
	return r.buf[pos&(WindowSize-1)]
}

func (r *ring) set(pos int, b byte) {
	r.buf[pos&(WindowSize-1)] = b
}
