// Package lzss implements the LZSS variant understood by Thinger.io device firmware.
//
// The stream is a headerless bitstream of tokens, most-significant bit first:
//
//	literal: 1 bbbbbbbb                      (9 bits)
//	match:   0 ooooooooooo llll              (16 bits)
//
// where o is an absolute position in a 2048 byte window and l is the match length
// minus two. Tokens are not byte aligned; the final partial byte is zero padded.
// There is no end marker, so a decoder must be handed exactly the encoded bytes.
package lzss

const (
	// OffsetBits is the width of a match offset.
	OffsetBits = 11
	// LengthBits is the width of a match length.
	LengthBits = 4
	// WindowSize is the number of positions a match offset can address.
	WindowSize = 1 << OffsetBits
	// MaxMatch is the lookahead size and longest encodable match.
	MaxMatch = 1<<LengthBits + 1
	// MinMatch is the shortest match worth encoding; shorter runs become literals.
	MinMatch = 2

	// startPos is where the first input byte lands in the window. Matches never
	// reach back further than startPos positions, so lookahead bytes written ahead
	// of the cursor cannot clobber the searchable window.
	startPos = WindowSize - MaxMatch
)

// Encode compresses src.
func Encode(src []byte) []byte {
	w := &bitWriter{out: make([]byte, 0, len(src)/2+1)}
	win := newRing()

	loaded := 0
	for loaded < len(src) && loaded < MaxMatch {
		win.set(startPos+loaded, src[loaded])
		loaded++
	}

	cur := startPos
	for pos := 0; pos < len(src); {
		lookahead := min(MaxMatch, len(src)-pos)
		c := win.at(cur)

		// nearest candidate first; only a strictly longer match replaces the best
		bestPos, bestLen := 0, 1
		for i := cur - 1; i >= cur-startPos; i-- {
			if win.at(i) != c {
				continue
			}
			j := 1
			for ; j < lookahead; j++ {
				if win.at(i+j) != win.at(cur+j) {
					break
				}
			}
			if j > bestLen {
				bestPos, bestLen = i, j
			}
		}

		if bestLen < MinMatch {
			bestLen = 1
			w.write(1, 1)
			w.write(uint(c), 8)
		} else {
			w.write(0, 1)
			w.write(uint(bestPos&(WindowSize-1)), OffsetBits)
			w.write(uint(bestLen-MinMatch), LengthBits)
		}

		for k := 0; k < bestLen && loaded < len(src); k++ {
			win.set(startPos+loaded, src[loaded])
			loaded++
		}
		cur += bestLen
		pos += bestLen
	}

	return w.bytes()
}

// Decode expands src, which must be exactly the bytes produced by Encode.
func Decode(src []byte) []byte {
	r := &bitReader{src: src}
	win := newRing()
	out := make([]byte, 0, len(src)*2)

	emit := func(cur int, b byte) int {
		out = append(out, b)
		win.set(cur, b)
		return (cur + 1) & (WindowSize - 1)
	}

	cur := startPos
	for {
		flag, ok := r.read(1)
		if !ok {
			break
		}
		if flag == 1 {
			c, ok := r.read(8)
			if !ok {
				break
			}
			cur = emit(cur, byte(c))
			continue
		}

		offset, ok := r.read(OffsetBits)
		if !ok {
			break
		}
		length, ok := r.read(LengthBits)
		if !ok {
			break
		}
		for k := 0; k < int(length)+MinMatch; k++ {
			cur = emit(cur, win.at(int(offset)+k))
		}
	}

	return out
}
