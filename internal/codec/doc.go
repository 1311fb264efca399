// Package codec turns beacon payloads into the compact form carried in the
// "d" query parameter: a single raw LZ4 block (no frame header, no checksum)
// encoded with the URL-safe base64 alphabet and without padding.
//
// The compressor output buffer must be at least Bound(len(src)) bytes.
// CompressInto enforces that bound up front so an undersized buffer fails
// with ErrShortBuffer instead of producing a truncated block.
package codec
