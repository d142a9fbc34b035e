package odbc

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

// bufferedRow builds a one-row result set positioned on that row.
func bufferedRow(t *testing.T, opts Options, cols []ColumnMetadata, values ...interface{}) *BufferedResultSet {
	t.Helper()
	opts.Buffered = true
	rs, err := NewBufferedResultSet(newFakeCursor(cols, values), opts)
	require.NoError(t, err)
	ret, err := rs.Fetch(SQL_FETCH_FIRST, 0)
	require.NoError(t, err)
	require.Equal(t, SQL_SUCCESS, ret)
	return rs
}

// readAll reads field to completion with a fixed buffer size and returns
// the concatenated payload and the number of calls made.
func readAll(t *testing.T, rs ResultSet, field int, target SQLSMALLINT, size int) ([]byte, int) {
	t.Helper()
	term := terminatorSize(target)
	var out []byte
	for calls := 1; ; calls++ {
		buf := make([]byte, size)
		ind, ret, err := rs.GetData(field, target, buf)
		require.NoError(t, err)
		switch ret {
		case SQL_SUCCESS:
			return append(out, buf[:ind]...), calls
		case SQL_SUCCESS_WITH_INFO:
			n := size - term
			if term == wcharSize {
				n &^= 1
			}
			require.Greater(t, int(ind), n, "a truncated read reports more than it returned")
			rec, ok := rs.DiagRec(1)
			require.True(t, ok)
			require.Equal(t, SQLStateDataTruncation, rec.SQLState)
			out = append(out, buf[:n]...)
		default:
			t.Fatalf("unexpected return %s", FormatReturnCode(ret))
		}
		require.Less(t, calls, 100000)
	}
}

func getData(t *testing.T, rs *BufferedResultSet, field int, target SQLSMALLINT, size int) ([]byte, SQLLEN, SQLRETURN) {
	t.Helper()
	buf := make([]byte, size)
	ind, ret, err := rs.GetData(field, target, buf)
	if ret == SQL_ERROR {
		require.Error(t, err)
	} else {
		require.NoError(t, err)
	}
	return buf, ind, ret
}

func TestConversionMatrix_Pairs(t *testing.T) {
	supported := map[SQLSMALLINT][]SQLSMALLINT{
		SQL_C_CHAR:   {SQL_C_CHAR, SQL_C_WCHAR, SQL_C_BINARY, SQL_C_LONG, SQL_C_DOUBLE},
		SQL_C_WCHAR:  {SQL_C_CHAR, SQL_C_WCHAR, SQL_C_BINARY, SQL_C_LONG, SQL_C_DOUBLE},
		SQL_C_BINARY: {SQL_C_CHAR, SQL_C_WCHAR, SQL_C_BINARY},
		SQL_C_LONG:   {SQL_C_CHAR, SQL_C_WCHAR, SQL_C_BINARY, SQL_C_LONG, SQL_C_DOUBLE},
		SQL_C_DOUBLE: {SQL_C_CHAR, SQL_C_WCHAR, SQL_C_BINARY, SQL_C_LONG, SQL_C_DOUBLE},
	}
	all := []SQLSMALLINT{SQL_C_CHAR, SQL_C_WCHAR, SQL_C_BINARY, SQL_C_LONG, SQL_C_DOUBLE, SQL_TYPE_DATE}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range supported[from] {
				want = want || s == to
			}
			_, ok := lookupConversion(from, to)
			require.Equal(t, want, ok, "%s -> %s", CTypeName(from), CTypeName(to))
		}
	}
}

func TestGetData_Long(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{intColumn("n")}, int32(-42))

	buf, ind, ret := getData(t, rs, 1, SQL_C_LONG, 4)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(4), ind)
	require.Equal(t, int32(-42), nativeLong(buf))

	buf, _, ret = getData(t, rs, 1, SQL_C_DOUBLE, 8)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, -42.0, nativeDouble(buf))

	buf, ind, ret = getData(t, rs, 1, SQL_C_CHAR, 16)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(3), ind)
	require.Equal(t, "-42\x00", string(buf[:4]))

	buf, ind, ret = getData(t, rs, 1, SQL_C_WCHAR, 16)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(6), ind)
	require.Equal(t, wideString("-42"), buf[:6])

	buf, ind, ret = getData(t, rs, 1, SQL_C_BINARY, 4)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(4), ind)
	require.Equal(t, int32(-42), nativeLong(buf))
}

func TestGetData_DoubleToLong(t *testing.T) {
	tests := []struct {
		value    float64
		ret      SQLRETURN
		expected int32
		state    string
	}{
		{7, SQL_SUCCESS, 7, ""},
		{2.75, SQL_SUCCESS_WITH_INFO, 2, SQLStateFractionalTruncation},
		{-2.75, SQL_SUCCESS_WITH_INFO, -2, SQLStateFractionalTruncation},
		{1e20, SQL_ERROR, 0, SQLStateNumericOverflow},
		{math.NaN(), SQL_ERROR, 0, SQLStateNumericOverflow},
	}

	for _, tt := range tests {
		rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{doubleColumn("d", 24)}, tt.value)
		buf, _, ret := getData(t, rs, 1, SQL_C_LONG, 4)
		require.Equal(t, tt.ret, ret, "value %v", tt.value)
		rec, ok := rs.DiagRec(1)
		if tt.state == "" {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, tt.state, rec.SQLState)
		}
		if ret != SQL_ERROR {
			require.Equal(t, tt.expected, nativeLong(buf))
		}
	}
}

func TestFormatDouble_Precision(t *testing.T) {
	tests := []struct {
		value       float64
		displaySize SQLLEN
		expected    string
	}{
		{1.0 / 3, realDisplaySize, "0.3333333"},
		{1.0 / 3, floatDisplaySize, "0.333333333333333"},
		{1.0 / 3, 0, "0.3333333333333333"},
		{2.5, floatDisplaySize, "2.5"},
		{100, realDisplaySize, "100"},
		{-1e-7, floatDisplaySize, "-1e-07"},
	}

	for _, tt := range tests {
		result := formatDouble(tt.value, tt.displaySize)
		if result != tt.expected {
			t.Errorf("formatDouble(%v, %d): expected %q, got %q", tt.value, tt.displaySize, tt.expected, result)
		}
	}
}

func TestGetData_NumberRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 12345, math.MaxInt32, math.MinInt32} {
		rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{intColumn("n")}, v)
		text, ind, ret := getData(t, rs, 1, SQL_C_CHAR, 32)
		require.Equal(t, SQL_SUCCESS, ret)
		parsed, err := strconv.ParseInt(string(text[:ind]), 10, 32)
		require.NoError(t, err)
		require.Equal(t, v, int32(parsed))
	}

	for _, v := range []float64{0, 1.5, -2.25, 1.0 / 3, 6.02214076e23, math.SmallestNonzeroFloat64} {
		rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{doubleColumn("d", 0)}, v)
		text, ind, ret := getData(t, rs, 1, SQL_C_CHAR, 64)
		require.Equal(t, SQL_SUCCESS, ret)
		parsed, err := strconv.ParseFloat(string(text[:ind]), 64)
		require.NoError(t, err)
		require.Equal(t, v, parsed)
	}
}

func TestGetData_StringToNumber(t *testing.T) {
	tests := []struct {
		text   string
		long   int32
		double float64
		ret    SQLRETURN
	}{
		{"42", 42, 42, SQL_SUCCESS},
		{" 7 ", 7, 7, SQL_SUCCESS},
		{"5.00", 5, 5, SQL_SUCCESS},
		{"-3.5", -3, -3.5, SQL_SUCCESS_WITH_INFO},
	}

	for _, tt := range tests {
		for _, col := range []ColumnMetadata{charColumn("c", 10), wcharColumn("w", 10)} {
			rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{col}, tt.text)
			buf, _, ret := getData(t, rs, 1, SQL_C_LONG, 4)
			require.Equal(t, tt.ret, ret, "%q as long", tt.text)
			require.Equal(t, tt.long, nativeLong(buf))

			buf, _, ret = getData(t, rs, 1, SQL_C_DOUBLE, 8)
			require.Equal(t, SQL_SUCCESS, ret, "%q as double", tt.text)
			require.Equal(t, tt.double, nativeDouble(buf))
		}
	}

	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{charColumn("c", 10)}, "abc")
	_, _, ret := getData(t, rs, 1, SQL_C_LONG, 4)
	require.Equal(t, SQL_ERROR, ret)
	rec, ok := rs.DiagRec(1)
	require.True(t, ok)
	require.Equal(t, SQLStateNumericOverflow, rec.SQLState)
	require.Equal(t, int32(103), rec.NativeError)

	rs = bufferedRow(t, DefaultOptions(), []ColumnMetadata{doubleColumn("d", 24)}, 1e20)
	_, _, ret = getData(t, rs, 1, SQL_C_LONG, 4)
	require.Equal(t, SQL_ERROR, ret)
	rec, ok = rs.DiagRec(1)
	require.True(t, ok)
	require.Equal(t, SQLStateNumericOverflow, rec.SQLState)
	require.Equal(t, int32(0), rec.NativeError)
}

func TestDiagnostics_NativeErrors(t *testing.T) {
	tests := []struct {
		err    *Error
		state  string
		native int32
	}{
		{errTruncated, SQLStateDataTruncation, -1},
		{errFractional, SQLStateFractionalTruncation, 0},
		{errNumericOutOfRange, SQLStateNumericOverflow, 0},
		{errStringNotNumeric, SQLStateNumericOverflow, 103},
		{errInvalidUnicode, SQLStateDriverSpecific, -1},
	}
	for _, tt := range tests {
		rec := tt.err.DiagRecord()
		require.Equal(t, tt.state, rec.SQLState, tt.err.Message)
		require.Equal(t, tt.native, rec.NativeError, tt.err.Message)
	}
}

func TestGetData_BinaryHex(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{binaryColumn("b", 16)}, data)

	text, ind, ret := getData(t, rs, 1, SQL_C_CHAR, 32)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(12), ind)
	require.Equal(t, "DEADBEEF0001", string(text[:ind]))
	decoded, err := hex.DecodeString(string(text[:ind]))
	require.NoError(t, err)
	require.Equal(t, data, decoded)

	wide, ind, ret := getData(t, rs, 1, SQL_C_WCHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(24), ind)
	require.Equal(t, wideString("DEADBEEF0001"), wide[:ind])

	// chunked hex keeps whole bytes per call
	chunks, calls := readAll(t, rs, 1, SQL_C_CHAR, 5)
	require.Equal(t, "DEADBEEF0001", string(chunks))
	require.Equal(t, 3, calls)

	raw, ind, ret := getData(t, rs, 1, SQL_C_BINARY, 16)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, data, raw[:ind])
}

func TestGetData_NarrowWide(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(),
		[]ColumnMetadata{charColumn("c", 20), wcharColumn("w", 20)},
		"héllo 中", "wïde 😀")

	wide, ind, ret := getData(t, rs, 1, SQL_C_WCHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, wideString("héllo 中"), wide[:ind])

	narrow, ind, ret := getData(t, rs, 2, SQL_C_CHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, "wïde 😀", string(narrow[:ind]))

	same, ind, ret := getData(t, rs, 2, SQL_C_WCHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, wideString("wïde 😀"), same[:ind])
	require.Equal(t, []byte{0, 0}, same[ind:ind+2])
}

func TestGetData_Charset(t *testing.T) {
	opts := DefaultOptions()
	opts.Charset = charmap.ISO8859_1
	rs := bufferedRow(t, opts,
		[]ColumnMetadata{charColumn("c", 10), wcharColumn("w", 10)},
		"caf\xe9", "café €")

	wide, ind, ret := getData(t, rs, 1, SQL_C_WCHAR, 32)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, wideString("café"), wide[:ind])

	narrow, ind, ret := getData(t, rs, 2, SQL_C_CHAR, 32)
	require.Equal(t, SQL_SUCCESS, ret)
	require.True(t, bytes.HasPrefix(narrow[:ind], []byte("caf\xe9 ")))
	require.Equal(t, SQLLEN(6), ind)
}

func TestGetData_InvalidUnicode(t *testing.T) {
	lone := wideString("a")
	lone = append(lone, 0, 0)
	lone[2], lone[3] = wideString("\U0001F600")[0], wideString("\U0001F600")[1]
	rs := bufferedRow(t, DefaultOptions(),
		[]ColumnMetadata{charColumn("c", 10), wcharColumn("w", 10)},
		"bad\xff", lone)

	_, _, ret := getData(t, rs, 1, SQL_C_WCHAR, 32)
	require.Equal(t, SQL_ERROR, ret)
	rec, ok := rs.DiagRec(1)
	require.True(t, ok)
	require.Equal(t, SQLStateDriverSpecific, rec.SQLState)
	require.Equal(t, "Invalid Unicode translation", rec.Message)

	_, _, ret = getData(t, rs, 2, SQL_C_CHAR, 32)
	require.Equal(t, SQL_ERROR, ret)
}

func TestGetData_RestrictedDataType(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{binaryColumn("b", 4)}, []byte{1})
	_, _, ret := getData(t, rs, 1, SQL_C_LONG, 4)
	require.Equal(t, SQL_ERROR, ret)
	rec, ok := rs.DiagRec(1)
	require.True(t, ok)
	require.Equal(t, SQLStateRestrictedDataType, rec.SQLState)
	_, ok = rs.DiagRec(2)
	require.False(t, ok)
}

func TestGetData_NullBeforeLookup(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{binaryColumn("b", 4), intColumn("n")}, nil, nil)
	for _, target := range []SQLSMALLINT{SQL_C_LONG, SQL_C_CHAR, SQL_C_BINARY} {
		for field := 1; field <= 2; field++ {
			_, ind, ret := getData(t, rs, field, target, 8)
			require.Equal(t, SQL_SUCCESS, ret)
			require.Equal(t, SQL_NULL_DATA, ind)
		}
	}
}

func TestGetData_InvalidBufferLength(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{intColumn("n"), charColumn("c", 10)}, int32(1), "abc")

	_, _, ret := getData(t, rs, 1, SQL_C_LONG, 2)
	require.Equal(t, SQL_ERROR, ret)
	rec, _ := rs.DiagRec(1)
	require.Equal(t, SQLStateInvalidStringLength, rec.SQLState)

	_, _, ret = getData(t, rs, 1, SQL_C_DOUBLE, 0)
	require.Equal(t, SQL_ERROR, ret)
}

func TestGetData_LengthOnly(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(),
		[]ColumnMetadata{charColumn("c", 10), binaryColumn("b", 8), intColumn("n")},
		"abc", []byte{0xAB, 0xCD}, int32(42))

	tests := []struct {
		field  int
		target SQLSMALLINT
		size   int
		ind    SQLLEN
	}{
		{1, SQL_C_CHAR, 0, 3},
		{1, SQL_C_CHAR, 1, 3},
		{1, SQL_C_WCHAR, 0, 6},
		{1, SQL_C_WCHAR, 3, 6},
		{1, SQL_C_BINARY, 0, 3},
		{2, SQL_C_CHAR, 2, 4},
		{2, SQL_C_WCHAR, 0, 8},
		{3, SQL_C_CHAR, 0, 2},
	}

	for _, tt := range tests {
		buf := bytes.Repeat([]byte{0xFF}, tt.size)
		ind, ret, err := rs.GetData(tt.field, tt.target, buf)
		require.NoError(t, err)
		require.Equal(t, SQL_SUCCESS_WITH_INFO, ret, "field %d as %s into %d bytes", tt.field, CTypeName(tt.target), tt.size)
		require.Equal(t, tt.ind, ind)
		rec, ok := rs.DiagRec(1)
		require.True(t, ok)
		require.Equal(t, SQLStateDataTruncation, rec.SQLState)
		if term := terminatorSize(tt.target); tt.size >= term {
			require.Equal(t, make([]byte, term), buf[:term])
		}

		// the position did not move, so the next read returns the whole value
		full, ind2, ret := getData(t, rs, tt.field, tt.target, 64)
		require.Equal(t, SQL_SUCCESS, ret)
		require.Equal(t, tt.ind, ind2)
		require.Len(t, full[:ind2], int(tt.ind))
	}

	value, ind, ret := getData(t, rs, 1, SQL_C_CHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, "abc", string(value[:ind]))
}

func TestGetData_TruncationLaw(t *testing.T) {
	value := strings.Repeat("0123456789", 25) + "xyz"
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{textColumn("t")}, value)

	for _, k := range []int{1, 2, 3, 4, 7, 64, 252, 253} {
		out, calls := readAll(t, rs, 1, SQL_C_BINARY, k)
		require.Equal(t, value, string(out), "k=%d", k)
		require.Equal(t, (len(value)+k-1)/k, calls, "k=%d", k)
	}

	// narrow targets spend one byte of every buffer on the terminator
	for _, k := range []int{2, 5, 254} {
		out, calls := readAll(t, rs, 1, SQL_C_CHAR, k)
		require.Equal(t, value, string(out), "k=%d", k)
		require.Equal(t, (len(value)+k-2)/(k-1), calls, "k=%d", k)
	}

	wide := wideString(value)
	for _, k := range []int{4, 7, 100} {
		out, _ := readAll(t, rs, 1, SQL_C_WCHAR, k)
		require.Equal(t, wide, out, "k=%d", k)
	}
}

func TestGetData_IndicatorIsRemaining(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{charColumn("c", 20)}, "abcdefghij")

	buf, ind, ret := getData(t, rs, 1, SQL_C_CHAR, 5)
	require.Equal(t, SQL_SUCCESS_WITH_INFO, ret)
	require.Equal(t, SQLLEN(10), ind)
	require.Equal(t, "abcd\x00", string(buf))

	buf, ind, ret = getData(t, rs, 1, SQL_C_CHAR, 5)
	require.Equal(t, SQL_SUCCESS_WITH_INFO, ret)
	require.Equal(t, SQLLEN(6), ind)
	require.Equal(t, "efgh\x00", string(buf))

	buf, ind, ret = getData(t, rs, 1, SQL_C_CHAR, 5)
	require.Equal(t, SQL_SUCCESS, ret)
	require.Equal(t, SQLLEN(2), ind)
	require.Equal(t, "ij\x00", string(buf[:3]))

	// a completed read starts over
	_, ind, ret = getData(t, rs, 1, SQL_C_CHAR, 5)
	require.Equal(t, SQL_SUCCESS_WITH_INFO, ret)
	require.Equal(t, SQLLEN(10), ind)
}

func TestGetData_Idempotent(t *testing.T) {
	rs, err := mustBuffer(scenarioCursor("second row body"))
	require.NoError(t, err)

	_, err = rs.Fetch(SQL_FETCH_FIRST, 0)
	require.NoError(t, err)
	// leave a partial read behind, then move
	_, _, ret := getData(t, rs, 3, SQL_C_CHAR, 3)
	require.Equal(t, SQL_SUCCESS_WITH_INFO, ret)
	require.NotZero(t, rs.readSoFar)

	_, err = rs.Fetch(SQL_FETCH_NEXT, 0)
	require.NoError(t, err)
	require.Zero(t, rs.readSoFar)

	first, ind1, ret1 := getData(t, rs, 3, SQL_C_CHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret1)
	require.Zero(t, rs.readSoFar)
	second, ind2, ret2 := getData(t, rs, 3, SQL_C_CHAR, 64)
	require.Equal(t, SQL_SUCCESS, ret2)
	require.Equal(t, ind1, ind2)
	require.Equal(t, first, second)
	require.Equal(t, "second row body", string(first[:ind1]))
}

func TestGetData_FieldSwitchRestarts(t *testing.T) {
	rs := bufferedRow(t, DefaultOptions(), []ColumnMetadata{charColumn("a", 10), charColumn("b", 10)}, "abcdef", "xyz")

	buf, _, _ := getData(t, rs, 1, SQL_C_CHAR, 3)
	require.Equal(t, "ab", string(buf[:2]))
	buf, _, _ = getData(t, rs, 2, SQL_C_CHAR, 8)
	require.Equal(t, "xyz", string(buf[:3]))
	buf, ind, _ := getData(t, rs, 1, SQL_C_CHAR, 3)
	require.Equal(t, "ab", string(buf[:2]))
	require.Equal(t, SQLLEN(6), ind)
}

func TestGetData_InvalidField(t *testing.T) {
	rs, err := mustBuffer(scenarioCursor("x"))
	require.NoError(t, err)

	// before the first fetch there is no current row
	_, _, ret := getData(t, rs, 1, SQL_C_LONG, 4)
	require.Equal(t, SQL_ERROR, ret)
	rec, _ := rs.DiagRec(1)
	require.Equal(t, SQLStateInvalidCursorState, rec.SQLState)

	_, err = rs.Fetch(SQL_FETCH_FIRST, 0)
	require.NoError(t, err)
	for _, field := range []int{0, 4, -1} {
		_, _, ret = getData(t, rs, field, SQL_C_LONG, 4)
		require.Equal(t, SQL_ERROR, ret)
		rec, _ = rs.DiagRec(1)
		require.Equal(t, SQLStateInvalidDescIndex, rec.SQLState)
	}
}
