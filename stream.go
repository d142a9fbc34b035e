package odbc

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxStreamChunk caps the size of a single driver read made by a Stream.
const maxStreamChunk = 8192

// chunkReader is the part of a Cursor a Stream needs. Both the live
// statement and the cache implement it.
type chunkReader interface {
	GetData(column int, cType SQLSMALLINT, buf []byte) (SQLLEN, bool, error)
}

// Stream reads one field of the current row in chunks, without knowing its
// length in advance. Under EncodingUTF8 the field is fetched as UTF-16 and
// returned as UTF-8.
type Stream struct {
	src     chunkReader
	field   int
	enc     Encoding
	scratch []byte
	// carry holds a high surrogate whose low half is in the next chunk.
	carry   []byte
	pending []byte
	eof     bool
	closed  bool
}

func newStream(src chunkReader, field int, enc Encoding) *Stream {
	return &Stream{src: src, field: field, enc: enc}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errResultSetClosed
	}
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if s.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	var (
		data []byte
		err  error
	)
	switch s.enc {
	case EncodingBinary:
		data, err = s.readChunk(SQL_C_BINARY, clampChunk(len(p)), 0)
	case EncodingChar:
		// binary data converts to two hex digits per byte
		data, err = s.readChunk(SQL_C_CHAR, max(clampChunk(len(p)), 2), 1)
	case EncodingUTF8:
		data, err = s.readWide(len(p))
	default:
		err = errors.Errorf("invalid stream encoding %v", s.enc)
	}
	if err != nil {
		s.eof = true
		return 0, err
	}
	if len(data) == 0 && s.eof {
		return 0, io.EOF
	}
	n := copy(p, data)
	s.pending = data[n:]
	return n, nil
}

func clampChunk(n int) int {
	if n > maxStreamChunk {
		return maxStreamChunk
	}
	return n
}

// readChunk reads at most size payload bytes of cType, whose terminator is
// term bytes long. It marks the stream finished on SQL_NO_DATA, NULL or a
// read that was not truncated.
func (s *Stream) readChunk(cType SQLSMALLINT, size, term int) ([]byte, error) {
	if cap(s.scratch) < size+term {
		s.scratch = make([]byte, size+term)
	}
	buf := s.scratch[:size+term]

	ind, truncated, err := s.src.GetData(s.field, cType, buf)
	if err == io.EOF {
		s.eof = true
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "streaming column %d", s.field)
	}
	if ind == SQL_NULL_DATA {
		s.eof = true
		return nil, nil
	}
	if truncated {
		n := size
		if term == wcharSize {
			n &^= 1
		}
		return buf[:n], nil
	}
	s.eof = true
	n := int(ind)
	if n < 0 || n > size {
		n = size
	}
	return buf[:n], nil
}

// readWide fetches about half of want bytes of UTF-16 so the UTF-8 output
// usually fits the caller's buffer.
func (s *Stream) readWide(want int) ([]byte, error) {
	size := clampChunk(want/2) &^ 1
	if size < 2*wcharSize {
		size = 2 * wcharSize
	}
	data, err := s.readChunk(SQL_C_WCHAR, size, wcharSize)
	if err != nil {
		return nil, err
	}

	if len(s.carry) > 0 {
		data = append(append([]byte{}, s.carry...), data...)
		s.carry = nil
	}
	if !s.eof && len(data) >= wcharSize {
		last := binary.NativeEndian.Uint16(data[len(data)-wcharSize:])
		if last >= 0xD800 && last <= 0xDBFF {
			s.carry = append([]byte{}, data[len(data)-wcharSize:]...)
			data = data[:len(data)-wcharSize]
		}
	}
	if len(data) == 0 {
		if s.eof {
			return nil, nil
		}
		return s.readWide(want)
	}

	if !validWide(data) {
		return nil, errInvalidUnicode
	}
	text, err := nativeUTF16.NewDecoder().Bytes(data)
	if err != nil {
		return nil, errInvalidUnicode
	}
	return text, nil
}

// Close implements io.Closer. The remainder of the field is abandoned.
func (s *Stream) Close() error {
	s.closed = true
	s.pending = nil
	s.carry = nil
	return nil
}

var _ io.ReadCloser = (*Stream)(nil)
