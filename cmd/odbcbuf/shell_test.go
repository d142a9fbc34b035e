package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strconv"
	"testing"
	"unicode/utf16"

	odbc "github.com/slingdata-io/odbcbuf"
	"github.com/stretchr/testify/require"
)

// memCursor serves string and int32 values in one chunk per column.
type memCursor struct {
	cols []odbc.ColumnMetadata
	rows [][]interface{}
	pos  int
	read map[int]bool
}

func (c *memCursor) NumColumns() (int, error) { return len(c.cols), nil }

func (c *memCursor) DescribeColumn(column int) (odbc.ColumnMetadata, error) {
	return c.cols[column-1], nil
}

func (c *memCursor) Fetch(orientation odbc.SQLSMALLINT, offset odbc.SQLLEN) (bool, error) {
	c.pos++
	c.read = map[int]bool{}
	return c.pos <= len(c.rows), nil
}

func (c *memCursor) GetData(column int, cType odbc.SQLSMALLINT, buf []byte) (odbc.SQLLEN, bool, error) {
	v := c.rows[c.pos-1][column-1]
	if v == nil {
		return odbc.SQL_NULL_DATA, false, nil
	}
	if c.read[column] {
		return 0, false, io.EOF
	}
	c.read[column] = true
	text, ok := v.(string)
	if n, isInt := v.(int32); isInt {
		if cType == odbc.SQL_C_LONG {
			binary.NativeEndian.PutUint32(buf, uint32(n))
			return 4, false, nil
		}
		text, ok = strconv.Itoa(int(n)), true
	}
	if !ok {
		return 0, false, io.ErrUnexpectedEOF
	}
	data := []byte(text)
	if cType == odbc.SQL_C_WCHAR {
		units := utf16.Encode([]rune(text))
		data = make([]byte, 2*len(units))
		for i, u := range units {
			binary.NativeEndian.PutUint16(data[2*i:], u)
		}
	}
	n := copy(buf, data)
	return odbc.SQLLEN(n), false, nil
}

func (c *memCursor) RowCount() (odbc.SQLLEN, error)  { return -1, nil }
func (c *memCursor) DiagRecords() []odbc.DiagRecord { return nil }

type memQuerier struct{}

func (memQuerier) Query(ctx context.Context, query string, buffered bool) (odbc.ResultSet, error) {
	cursor := &memCursor{
		cols: []odbc.ColumnMetadata{
			{Name: "id", Ordinal: 1, Type: odbc.SQL_INTEGER, Size: 10, Nullable: odbc.SQL_NULLABLE},
			{Name: "name", Ordinal: 2, Type: odbc.SQL_VARCHAR, Size: 16, Nullable: odbc.SQL_NULLABLE},
		},
		rows: [][]interface{}{
			{int32(1), "alpha"},
			{int32(2), nil},
			{int32(3), "gamma"},
		},
	}
	opts := odbc.DefaultOptions()
	opts.Buffered = buffered
	return odbc.NewResultSet(cursor, opts)
}

func run(t *testing.T, sh *shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, sh.execute(context.Background(), line))
	return out.String()
}

func TestShell_Navigation(t *testing.T) {
	var out bytes.Buffer
	sh := newShell(memQuerier{}, true, &out)
	ctx := context.Background()

	require.Error(t, sh.execute(ctx, ".first"))

	require.Equal(t, "id INTEGER | name VARCHAR\n(3 rows buffered)\n", run(t, sh, &out, "SELECT id, name FROM t;"))
	require.Equal(t, "3 | gamma\n", run(t, sh, &out, ".last"))
	require.Equal(t, "2 | NULL\n", run(t, sh, &out, ".prior"))
	require.Equal(t, "1 | alpha\n", run(t, sh, &out, ".abs 1"))
	require.Equal(t, "no data\n", run(t, sh, &out, ".rel -1"))
	require.Equal(t, "1 | alpha\n", run(t, sh, &out, ".next"))
	require.Equal(t, "3\n", run(t, sh, &out, ".count"))
	require.Equal(t, "\"al\" indicator=5 SQL_SUCCESS_WITH_INFO\n", run(t, sh, &out, ".get 2 char 3"))
	require.Equal(t, "[01004] (-1) String data, right truncated\n", run(t, sh, &out, ".diag"))
	require.Equal(t, "\"pha\" indicator=3 SQL_SUCCESS\n", run(t, sh, &out, ".get 2 char 4"))
	require.Equal(t, "1 indicator=4 SQL_SUCCESS\n", run(t, sh, &out, ".get 1 long"))
	require.Equal(t, "616c706861\n(5 bytes)\n", run(t, sh, &out, ".stream 2 binary"))
	require.Equal(t, "2 | NULL\n3 | gamma\n(2 rows)\n", run(t, sh, &out, ".dump"))

	require.Error(t, sh.execute(ctx, ".get 2 uuid"))
	require.Error(t, sh.execute(ctx, ".abs x"))
	require.Error(t, sh.execute(ctx, ".bogus"))

	run(t, sh, &out, ".close")
	require.Error(t, sh.execute(ctx, ".next"))
}

func TestShell_Live(t *testing.T) {
	var out bytes.Buffer
	sh := newShell(memQuerier{}, false, &out)

	require.Equal(t, "id INTEGER | name VARCHAR\n", run(t, sh, &out, "SELECT id, name FROM t"))
	require.Equal(t, "1 | alpha\n2 | NULL\n3 | gamma\n(3 rows)\n", run(t, sh, &out, ".dump"))
	require.Equal(t, "-1\n", run(t, sh, &out, ".count"))
}
