// Package codec maps device compression tags to encoders.
package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/lzss"
)

// Scheme tags as reported by devices.
const (
	SchemeZlib = "zlib"
	SchemeGzip = "gzip"
	SchemeLZSS = "lzss"
)

// ErrUnsupported is returned for compression tags this tool cannot produce.
var ErrUnsupported = errors.New("unsupported compression scheme")

// Supported reports whether scheme can be produced by Compress.
func Supported(scheme string) bool {
	switch scheme {
	case SchemeZlib, SchemeGzip, SchemeLZSS:
		return true
	}
	return false
}

// Compress encodes data with the given scheme. Unknown schemes return a codec error
// wrapping ErrUnsupported; callers are expected to fall back to sending data as is.
func Compress(scheme string, data []byte) ([]byte, error) {
	switch scheme {
	case SchemeLZSS:
		return lzss.Encode(data), nil
	case SchemeZlib:
		return deflate(data, func(w io.Writer) (io.WriteCloser, error) {
			return zlib.NewWriterLevel(w, zlib.BestCompression)
		})
	case SchemeGzip:
		return deflate(data, func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.BestCompression)
		})
	default:
		return nil, errors.NewCodecError(scheme, ErrUnsupported)
	}
}

// Decompress reverses Compress. It exists for verification and tests; devices do
// their own decoding.
func Decompress(scheme string, data []byte) ([]byte, error) {
	switch scheme {
	case SchemeLZSS:
		return lzss.Decode(data), nil
	case SchemeZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.NewCodecError(scheme, err)
		}
		return readAll(scheme, r)
	case SchemeGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.NewCodecError(scheme, err)
		}
		return readAll(scheme, r)
	default:
		return nil, errors.NewCodecError(scheme, ErrUnsupported)
	}
}

func deflate(data []byte, open func(io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	var buf bytes.Buffer
	w, err := open(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create compressor")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "failed to compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to flush compressor")
	}
	return buf.Bytes(), nil
}

func readAll(scheme string, r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewCodecError(scheme, err)
	}
	return out, nil
}
