package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/pierrec/lz4/v4"
)

var (
	// ErrShortBuffer is returned when the destination cannot hold the
	// worst-case compressed size.
	ErrShortBuffer = errors.New("codec: destination shorter than compression bound")

	// ErrCompressionFailed is returned when the compressor reports a
	// non-positive output size.
	ErrCompressionFailed = errors.New("codec: compression produced no output")
)

// Bound returns the worst-case compressed size of an n byte input.
func Bound(n int) int {
	return n + n/255 + 16
}

// CompressInto compresses src into dst as one raw LZ4 block and returns the
// number of bytes written.
func CompressInto(dst, src []byte) (int, error) {
	if len(dst) < Bound(len(src)) {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(dst), Bound(len(src)))
	}

	written, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return 0, fmt.Errorf("lz4 compress: %w", err)
	}
	if written <= 0 {
		return 0, ErrCompressionFailed
	}
	return written, nil
}

// Compress returns src compressed as one raw LZ4 block.
func Compress(src []byte) ([]byte, error) {
	destination := make([]byte, Bound(len(src)))
	written, err := CompressInto(destination, src)
	if err != nil {
		return nil, err
	}
	return destination[:written], nil
}

// Decompress inflates a raw LZ4 block whose uncompressed length is known.
// The length travels next to the payload in the "s" query parameter.
func Decompress(compressed []byte, uncompressedSize int) ([]byte, error) {
	if uncompressedSize < 0 {
		return nil, fmt.Errorf("lz4 decompress: negative size %d", uncompressedSize)
	}
	if uncompressedSize == 0 {
		return []byte{}, nil
	}
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// EncodeURLSafe encodes b with the standard base64 alphabet, then swaps
// '+' for '-' and '/' for '_' and strips trailing '=' padding.
func EncodeURLSafe(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeURLSafe reverses EncodeURLSafe. Padding is re-added to the next
// multiple of four before decoding, so padded input is accepted as well.
func DecodeURLSafe(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64url decode: %w", err)
	}
	return b, nil
}
