package lzss

// bitWriter packs values most-significant bit first with no alignment between them.
type bitWriter struct {
	out  []byte
	cur  byte
	used uint
}

func (w *bitWriter) write(v uint, width uint) {
	for i := width; i > 0; i-- {
		w.cur = w.cur<<1 | byte(v>>(i-1)&1)
		w.used++
		if w.used == 8 {
			w.out = append(w.out, w.cur)
			w.cur, w.used = 0, 0
		}
	}
}

// bytes flushes a trailing partial byte, zero padded on the right.
func (w *bitWriter) bytes() []byte {
	if w.used > 0 {
		w.out = append(w.out, w.cur<<(8-w.used))
		w.cur, w.used = 0, 0
	}
	return w.out
}

type bitReader struct {
	src []byte
	pos uint // bit position
}

// read returns the next width bits. It reports false when fewer than width bits remain.
func (r *bitReader) read(width uint) (uint, bool) {
	if r.pos+width > uint(len(r.src))*8 {
		return 0, false
	}
	var v uint
	for i := uint(0); i < width; i++ {
		b := r.src[r.pos>>3] >> (7 - r.pos&7) & 1
		v = v<<1 | uint(b)
		r.pos++
	}
	return v, true
}
