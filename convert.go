package odbc

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// conversionFunc converts a non-NULL buffered field into buf. It returns the
// indicator (bytes available before truncation), the return code, and the
// diagnostic raised by the conversion, if any.
type conversionFunc func(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error)

var (
	convOnce   sync.Once
	convMatrix map[SQLSMALLINT]map[SQLSMALLINT]conversionFunc
)

// Display sizes reported for REAL and FLOAT(53) columns.
const (
	realDisplaySize  = 14
	floatDisplaySize = 24
	realPrecision    = 7
	floatPrecision   = 15
)

const hexDigits = "0123456789ABCDEF"

func conversionMatrix() map[SQLSMALLINT]map[SQLSMALLINT]conversionFunc {
	convOnce.Do(func() {
		convMatrix = map[SQLSMALLINT]map[SQLSMALLINT]conversionFunc{
			SQL_C_CHAR: {
				SQL_C_CHAR:   toSameString,
				SQL_C_WCHAR:  systemToWideString,
				SQL_C_BINARY: toBinaryString,
				SQL_C_DOUBLE: stringToDouble,
				SQL_C_LONG:   stringToLong,
			},
			SQL_C_WCHAR: {
				SQL_C_WCHAR:  toSameString,
				SQL_C_BINARY: toBinaryString,
				SQL_C_CHAR:   wideToSystemString,
				SQL_C_DOUBLE: stringToDouble,
				SQL_C_LONG:   stringToLong,
			},
			SQL_C_BINARY: {
				SQL_C_BINARY: toSameString,
				SQL_C_CHAR:   binaryToSystemString,
				SQL_C_WCHAR:  binaryToWideString,
			},
			SQL_C_LONG: {
				SQL_C_DOUBLE: longToDouble,
				SQL_C_LONG:   toLong,
				SQL_C_BINARY: toLong,
				SQL_C_CHAR:   longToSystemString,
				SQL_C_WCHAR:  longToWideString,
			},
			SQL_C_DOUBLE: {
				SQL_C_DOUBLE: toDouble,
				SQL_C_BINARY: toDouble,
				SQL_C_CHAR:   doubleToSystemString,
				SQL_C_LONG:   doubleToLong,
				SQL_C_WCHAR:  doubleToWideString,
			},
		}
	})
	return convMatrix
}

// lookupConversion finds the conversion from a storage type to a target
// type. A missing entry means the pair is not supported.
func lookupConversion(from, to SQLSMALLINT) (conversionFunc, bool) {
	targets, ok := conversionMatrix()[from]
	if !ok {
		return nil, false
	}
	conv, ok := targets[to]
	return conv, ok
}

// lengthOnly answers a read whose buffer cannot hold a single unit of the
// value. Only the indicator and a terminator that fits are written and the
// read position does not move.
func lengthOnly(ind SQLLEN, term int, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	if len(buf) >= term {
		clear(buf[:term])
	}
	return ind, SQL_SUCCESS_WITH_INFO, errTruncated
}

// serve copies the unread part of out into buf followed by a terminator of
// term bytes. When buf is too small the copy is truncated, the position is
// kept for the next call and 01004 is raised; otherwise the position resets.
func (rs *BufferedResultSet) serve(out []byte, term int, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	if rs.readSoFar > len(out) {
		rs.readSoFar = 0
	}
	remaining := out[rs.readSoFar:]
	ind := SQLLEN(len(remaining))

	if len(buf) >= len(remaining)+term {
		copy(buf, remaining)
		clear(buf[len(remaining) : len(remaining)+term])
		rs.readSoFar = 0
		return ind, SQL_SUCCESS, nil
	}

	n := len(buf) - term
	if term == wcharSize {
		n &^= 1
	}
	if n <= 0 {
		return lengthOnly(ind, term, buf)
	}
	copy(buf, remaining[:n])
	clear(buf[n : n+term])
	rs.readSoFar += n
	return ind, SQL_SUCCESS_WITH_INFO, errTruncated
}

func toSameString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.serve(row.field(col), terminatorSize(col.CType), buf)
}

func toBinaryString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.serve(row.field(col), 0, buf)
}

func systemToWideString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	wide, diag := narrowToWide(row.field(col), rs.opts.narrowCharset())
	if diag != nil {
		return 0, SQL_ERROR, diag
	}
	return rs.serve(wide, wcharSize, buf)
}

func wideToSystemString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	narrow, diag := wideToNarrow(row.field(col), rs.opts.narrowCharset())
	if diag != nil {
		return 0, SQL_ERROR, diag
	}
	return rs.serve(narrow, 1, buf)
}

func binaryToSystemString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.binaryToString(row.field(col), 1, buf)
}

func binaryToWideString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.binaryToString(row.field(col), wcharSize, buf)
}

// binaryToString renders bytes as upper-case hex, two characters per byte
// in units of unit bytes. The read position counts source bytes.
func (rs *BufferedResultSet) binaryToString(data []byte, unit int, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	if rs.readSoFar > len(data) {
		rs.readSoFar = 0
	}
	remaining := data[rs.readSoFar:]
	ind := SQLLEN(len(remaining) * 2 * unit)

	ret, diag := SQL_SUCCESS, (*Error)(nil)
	toCopy := remaining
	if len(buf) < int(ind)+unit {
		n := (len(buf) - unit) / (2 * unit)
		if n <= 0 {
			return lengthOnly(ind, unit, buf)
		}
		toCopy = remaining[:n]
		ret, diag = SQL_SUCCESS_WITH_INFO, errTruncated
	}

	pos := 0
	for _, b := range toCopy {
		pos = putUnit(buf, pos, unit, hexDigits[b>>4])
		pos = putUnit(buf, pos, unit, hexDigits[b&0x0f])
	}
	clear(buf[pos : pos+unit])

	if ret == SQL_SUCCESS {
		rs.readSoFar = 0
	} else {
		rs.readSoFar += len(toCopy)
	}
	return ind, ret, diag
}

func putUnit(buf []byte, pos, unit int, c byte) int {
	if unit == wcharSize {
		binary.NativeEndian.PutUint16(buf[pos:], uint16(c))
	} else {
		buf[pos] = c
	}
	return pos + unit
}

func putFixed(buf []byte, size int) (SQLLEN, SQLRETURN, *Error) {
	if len(buf) < size {
		return SQLLEN(size), SQL_ERROR, errInvalidBufferLength
	}
	return SQLLEN(size), SQL_SUCCESS, nil
}

func toLong(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	ind, ret, diag := putFixed(buf, longSize)
	if ret == SQL_SUCCESS {
		copy(buf, row.data[col.Offset:col.Offset+longSize])
	}
	return ind, ret, diag
}

func toDouble(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	ind, ret, diag := putFixed(buf, doubleSize)
	if ret == SQL_SUCCESS {
		copy(buf, row.data[col.Offset:col.Offset+doubleSize])
	}
	return ind, ret, diag
}

func longToDouble(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	ind, ret, diag := putFixed(buf, doubleSize)
	if ret == SQL_SUCCESS {
		binary.NativeEndian.PutUint64(buf, math.Float64bits(float64(row.long(col))))
	}
	return ind, ret, diag
}

func doubleToLong(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return putDoubleAsLong(row.double(col), buf)
}

// putDoubleAsLong stores the integral part of v. A fractional part is
// dropped with a 01S07 warning.
func putDoubleAsLong(v float64, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	if math.IsNaN(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, SQL_ERROR, errNumericOutOfRange
	}
	ind, ret, diag := putFixed(buf, longSize)
	if ret != SQL_SUCCESS {
		return ind, ret, diag
	}
	whole := math.Trunc(v)
	binary.NativeEndian.PutUint32(buf, uint32(int32(whole)))
	if whole != v {
		return ind, SQL_SUCCESS_WITH_INFO, errFractional
	}
	return ind, SQL_SUCCESS, nil
}

func longToSystemString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.serve([]byte(strconv.FormatInt(int64(row.long(col)), 10)), 1, buf)
}

func longToWideString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.serve(stringToWide(strconv.FormatInt(int64(row.long(col)), 10)), wcharSize, buf)
}

func doubleToSystemString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.serve([]byte(formatDouble(row.double(col), col.DisplaySize)), 1, buf)
}

func doubleToWideString(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	return rs.serve(stringToWide(formatDouble(row.double(col), col.DisplaySize)), wcharSize, buf)
}

// formatDouble renders v with the precision implied by the column's display
// size: single precision for REAL, double precision for FLOAT(53), and the
// shortest exact form otherwise.
func formatDouble(v float64, displaySize SQLLEN) string {
	switch displaySize {
	case realDisplaySize:
		return strconv.FormatFloat(v, 'g', realPrecision, 64)
	case floatDisplaySize:
		return strconv.FormatFloat(v, 'g', floatPrecision, 64)
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}

// fieldText returns a character field as a Go string.
func (rs *BufferedResultSet) fieldText(row *rowBuffer, col ColumnLayout) (string, *Error) {
	data := row.field(col)
	if col.CType == SQL_C_WCHAR {
		narrow, diag := wideToNarrow(data, unicode.UTF8)
		return string(narrow), diag
	}
	text, err := rs.opts.narrowCharset().NewDecoder().Bytes(data)
	if err != nil {
		return "", errInvalidUnicode
	}
	return string(text), nil
}

func stringToDouble(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	text, diag := rs.fieldText(row, col)
	if diag != nil {
		return 0, SQL_ERROR, diag
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, SQL_ERROR, errStringNotNumeric
	}
	ind, ret, diag := putFixed(buf, doubleSize)
	if ret == SQL_SUCCESS {
		binary.NativeEndian.PutUint64(buf, math.Float64bits(v))
	}
	return ind, ret, diag
}

func stringToLong(rs *BufferedResultSet, row *rowBuffer, col ColumnLayout, buf []byte) (SQLLEN, SQLRETURN, *Error) {
	text, diag := rs.fieldText(row, col)
	if diag != nil {
		return 0, SQL_ERROR, diag
	}
	text = strings.TrimSpace(text)
	if v, err := strconv.ParseInt(text, 10, 32); err == nil {
		ind, ret, diag := putFixed(buf, longSize)
		if ret == SQL_SUCCESS {
			binary.NativeEndian.PutUint32(buf, uint32(int32(v)))
		}
		return ind, ret, diag
	}
	// decimals such as "5.00" are stored as text
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, SQL_ERROR, errStringNotNumeric
	}
	return putDoubleAsLong(v, buf)
}

// nativeUTF16 is the SQLWCHAR encoding of this platform.
var nativeUTF16 = unicode.UTF16(nativeEndianness(), unicode.IgnoreBOM)

func nativeEndianness() unicode.Endianness {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return unicode.LittleEndian
	}
	return unicode.BigEndian
}

// stringToWide encodes valid UTF-8 as native UTF-16.
func stringToWide(s string) []byte {
	wide, err := nativeUTF16.NewEncoder().String(s)
	if err != nil {
		return nil
	}
	return []byte(wide)
}

// validWide reports whether data is well-formed UTF-16 in native order.
func validWide(data []byte) bool {
	if len(data)%wcharSize != 0 {
		return false
	}
	for i := 0; i < len(data); i += wcharSize {
		u := binary.NativeEndian.Uint16(data[i:])
		switch {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+wcharSize >= len(data) {
				return false
			}
			next := binary.NativeEndian.Uint16(data[i+wcharSize:])
			if next < 0xDC00 || next > 0xDFFF {
				return false
			}
			i += wcharSize
		case u >= 0xDC00 && u <= 0xDFFF:
			return false
		}
	}
	return true
}

// narrowToWide converts text in charset cs to native UTF-16.
func narrowToWide(data []byte, cs encoding.Encoding) ([]byte, *Error) {
	if cs == unicode.UTF8 && !utf8.Valid(data) {
		return nil, errInvalidUnicode
	}
	text, err := cs.NewDecoder().Bytes(data)
	if err != nil {
		return nil, errInvalidUnicode
	}
	wide, err := nativeUTF16.NewEncoder().Bytes(text)
	if err != nil {
		return nil, errInvalidUnicode
	}
	return wide, nil
}

// wideToNarrow converts native UTF-16 to charset cs. Characters cs cannot
// represent are replaced by its substitution character.
func wideToNarrow(data []byte, cs encoding.Encoding) ([]byte, *Error) {
	if !validWide(data) {
		return nil, errInvalidUnicode
	}
	text, err := nativeUTF16.NewDecoder().Bytes(data)
	if err != nil {
		return nil, errInvalidUnicode
	}
	if cs == unicode.UTF8 {
		return text, nil
	}
	narrow, err := encoding.ReplaceUnsupported(cs.NewEncoder()).Bytes(text)
	if err != nil {
		return nil, errInvalidUnicode
	}
	return narrow, nil
}
