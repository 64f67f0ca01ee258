package core

// streaming.go wraps uploaded CSV readers so the decoder sees clean UTF-8:
//
//   - BOMSkippingReader drops the UTF-8 byte order mark Excel writes
//   - UTF8Sanitizer replaces invalid bytes with '?' without buffering the file
//   - CountingReader tracks bytes consumed and enforces the size limit
//
// WrapForDecode applies all three in the right order.

import (
	"bufio"
	"errors"
	"io"
	"unicode/utf8"
)

// ErrFileTooLarge is returned once a reader passes its byte limit.
var ErrFileTooLarge = errors.New("file exceeds maximum import size")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader removes a leading UTF-8 BOM.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if err == nil && string(head) == string(utf8BOM) {
			if _, err := r.br.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return r.br.Read(p)
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?'. A multi-byte sequence
// split across reads is held back until the next read completes it, so Read
// needs a buffer of at least utf8.UTFMax bytes.
type UTF8Sanitizer struct {
	reader  io.Reader
	pending []byte
}

// NewUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) < utf8.UTFMax {
		return 0, io.ErrShortBuffer
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes to emit.
func (s *UTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		if data[read] < utf8.RuneSelf {
			data[write] = data[read]
			write++
			read++
			continue
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && !utf8.FullRune(data[read:]) {
				s.pending = append(s.pending, data[read:]...)
				return write
			}
			data[write] = '?'
			write++
			read++
			continue
		}

		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// CountingReader tracks bytes read and fails with ErrFileTooLarge once more
// than Limit bytes have been consumed. A zero Limit disables the check.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Limit     int64
}

// NewCountingReader creates a counting reader with an optional byte limit.
func NewCountingReader(r io.Reader, limit int64) *CountingReader {
	return &CountingReader{reader: r, Limit: limit}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return n, ErrFileTooLarge
	}
	return n, err
}

// Exceeded reports whether the limit was crossed. Decoders that wrap read
// errors use it to surface ErrFileTooLarge unchanged.
func (r *CountingReader) Exceeded() bool {
	return r.Limit > 0 && r.BytesRead > r.Limit
}

// WrapForDecode counts raw bytes against the limit, then strips the BOM,
// then sanitizes UTF-8.
func WrapForDecode(r io.Reader, limit int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, limit)
	return NewUTF8Sanitizer(NewBOMSkippingReader(counter)), counter
}
