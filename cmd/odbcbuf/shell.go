package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	odbc "github.com/slingdata-io/odbcbuf"
)

// querier runs a statement and returns its result set.
type querier interface {
	Query(ctx context.Context, query string, buffered bool) (odbc.ResultSet, error)
}

// connQuerier runs statements on an open ODBC connection.
type connQuerier struct {
	conn *odbc.Conn
}

func (q connQuerier) Query(ctx context.Context, query string, buffered bool) (odbc.ResultSet, error) {
	if buffered {
		return q.conn.QueryBuffered(ctx, query)
	}
	return q.conn.QueryStream(ctx, query)
}

// shell executes SQL statements and dot commands that move around the
// last result set.
type shell struct {
	q        querier
	buffered bool
	out      io.Writer
	rs       odbc.ResultSet
}

func newShell(q querier, buffered bool, out io.Writer) *shell {
	return &shell{q: q, buffered: buffered, out: out}
}

const shellHelp = `Statements end with ';'. Commands on the last result set:
  .first .last .next .prior      move the cursor
  .abs N  .rel N                 absolute and relative moves
  .get COL [char|wchar|binary|long|double] [SIZE]
                                 read one chunk of a field
  .stream COL [char|binary|utf8] read a whole field through a stream
  .row                           print the current row
  .dump                          print the remaining rows
  .count                         print the row count
  .diag                          print diagnostic records
  .close                         close the result set
  .help                          show this text`

func (s *shell) execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ".") {
		return s.query(ctx, strings.TrimSuffix(line, ";"))
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	if cmd == ".help" {
		fmt.Fprintln(s.out, shellHelp)
		return nil
	}
	if s.rs == nil {
		return errors.New("no result set, run a query first")
	}

	switch cmd {
	case ".first":
		return s.fetch(odbc.SQL_FETCH_FIRST, 0)
	case ".last":
		return s.fetch(odbc.SQL_FETCH_LAST, 0)
	case ".next":
		return s.fetch(odbc.SQL_FETCH_NEXT, 0)
	case ".prior":
		return s.fetch(odbc.SQL_FETCH_PRIOR, 0)
	case ".abs", ".rel":
		if len(args) != 1 {
			return errors.Errorf("usage: %s N", cmd)
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid offset %q", args[0])
		}
		orientation := odbc.SQLSMALLINT(odbc.SQL_FETCH_ABSOLUTE)
		if cmd == ".rel" {
			orientation = odbc.SQL_FETCH_RELATIVE
		}
		return s.fetch(orientation, odbc.SQLLEN(n))
	case ".get":
		return s.get(args)
	case ".stream":
		return s.stream(args)
	case ".row":
		return s.printRow()
	case ".dump":
		return s.dump()
	case ".count":
		n, err := s.rs.RowCount()
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, n)
		return nil
	case ".diag":
		for i := 1; ; i++ {
			rec, ok := s.rs.DiagRec(i)
			if !ok {
				if i == 1 {
					fmt.Fprintln(s.out, "no diagnostics")
				}
				return nil
			}
			fmt.Fprintf(s.out, "[%s] (%d) %s\n", rec.SQLState, rec.NativeError, rec.Message)
		}
	case ".close":
		return s.closeResult()
	}
	return errors.Errorf("unknown command %s, try .help", cmd)
}

func (s *shell) query(ctx context.Context, query string) error {
	if err := s.closeResult(); err != nil {
		log.Warnf("closing previous result set: %v", err)
	}
	rs, err := s.q.Query(ctx, query, s.buffered)
	if err != nil {
		return err
	}
	s.rs = rs

	names := make([]string, 0, len(rs.Columns()))
	for _, col := range rs.Columns() {
		names = append(names, fmt.Sprintf("%s %s", col.Name, odbc.SQLTypeName(col.Type)))
	}
	fmt.Fprintln(s.out, strings.Join(names, " | "))
	n, err := rs.RowCount()
	if err != nil {
		return err
	}
	if rs.IsCached(1) {
		fmt.Fprintf(s.out, "(%d rows buffered)\n", n)
	}
	return nil
}

func (s *shell) fetch(orientation odbc.SQLSMALLINT, offset odbc.SQLLEN) error {
	ret, err := s.rs.Fetch(orientation, offset)
	if err != nil {
		return err
	}
	if ret == odbc.SQL_NO_DATA {
		fmt.Fprintln(s.out, "no data")
		return nil
	}
	return s.printRow()
}

func (s *shell) printRow() error {
	values := make([]string, len(s.rs.Columns()))
	for i := range values {
		v, null, err := odbc.ReadString(s.rs, i+1)
		if err != nil {
			return err
		}
		if null {
			v = "NULL"
		}
		values[i] = v
	}
	fmt.Fprintln(s.out, strings.Join(values, " | "))
	return nil
}

func (s *shell) dump() error {
	rows := 0
	for {
		ret, err := s.rs.Fetch(odbc.SQL_FETCH_NEXT, 0)
		if err != nil {
			return err
		}
		if ret == odbc.SQL_NO_DATA {
			break
		}
		if err := s.printRow(); err != nil {
			return err
		}
		rows++
	}
	fmt.Fprintf(s.out, "(%d rows)\n", rows)
	return nil
}

var targetTypes = map[string]odbc.SQLSMALLINT{
	"char":   odbc.SQL_C_CHAR,
	"wchar":  odbc.SQL_C_WCHAR,
	"binary": odbc.SQL_C_BINARY,
	"long":   odbc.SQL_C_LONG,
	"double": odbc.SQL_C_DOUBLE,
}

func (s *shell) get(args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return errors.New("usage: .get COL [char|wchar|binary|long|double] [SIZE]")
	}
	field, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid column %q", args[0])
	}
	target := odbc.SQLSMALLINT(odbc.SQL_C_CHAR)
	if len(args) > 1 {
		t, ok := targetTypes[args[1]]
		if !ok {
			return errors.Errorf("unknown target type %q", args[1])
		}
		target = t
	}
	size := 256
	switch target {
	case odbc.SQL_C_LONG:
		size = 4
	case odbc.SQL_C_DOUBLE:
		size = 8
	}
	if len(args) > 2 {
		if size, err = strconv.Atoi(args[2]); err != nil || size <= 0 {
			return errors.Errorf("invalid buffer size %q", args[2])
		}
	}

	buf := make([]byte, size)
	ind, ret, err := s.rs.GetData(field, target, buf)
	if err != nil {
		return err
	}
	status := odbc.FormatReturnCode(ret)
	switch {
	case ret == odbc.SQL_NO_DATA:
		fmt.Fprintln(s.out, status)
	case ind == odbc.SQL_NULL_DATA:
		fmt.Fprintf(s.out, "NULL %s\n", status)
	default:
		fmt.Fprintf(s.out, "%s indicator=%d %s\n", renderValue(target, buf, ind, ret), ind, status)
	}
	return nil
}

// renderValue formats the part of buf that a GetData call filled.
func renderValue(target odbc.SQLSMALLINT, buf []byte, ind odbc.SQLLEN, ret odbc.SQLRETURN) string {
	switch target {
	case odbc.SQL_C_LONG:
		return strconv.FormatInt(int64(int32(binary.NativeEndian.Uint32(buf))), 10)
	case odbc.SQL_C_DOUBLE:
		return strconv.FormatFloat(math.Float64frombits(binary.NativeEndian.Uint64(buf)), 'g', -1, 64)
	}

	term := 0
	switch target {
	case odbc.SQL_C_CHAR:
		term = 1
	case odbc.SQL_C_WCHAR:
		term = 2
	}
	n := len(buf) - term
	if ret == odbc.SQL_SUCCESS && ind >= 0 && int(ind) < n {
		n = int(ind)
	}
	if target == odbc.SQL_C_WCHAR {
		n &^= 1
	}
	data := buf[:n]

	switch target {
	case odbc.SQL_C_WCHAR:
		units := make([]uint16, len(data)/2)
		for i := range units {
			units[i] = binary.NativeEndian.Uint16(data[2*i:])
		}
		return strconv.Quote(string(utf16.Decode(units)))
	case odbc.SQL_C_BINARY:
		return hex.EncodeToString(data)
	}
	return strconv.Quote(string(data))
}

var streamEncodings = map[string]odbc.Encoding{
	"char":   odbc.EncodingChar,
	"binary": odbc.EncodingBinary,
	"utf8":   odbc.EncodingUTF8,
}

func (s *shell) stream(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: .stream COL [char|binary|utf8]")
	}
	field, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid column %q", args[0])
	}
	enc := odbc.EncodingUTF8
	if len(args) > 1 {
		e, ok := streamEncodings[args[1]]
		if !ok {
			return errors.Errorf("unknown encoding %q", args[1])
		}
		enc = e
	}

	st, err := s.rs.OpenStream(field, enc)
	if err != nil {
		return err
	}
	defer st.Close()
	data, err := io.ReadAll(st)
	if err != nil {
		return err
	}
	if enc == odbc.EncodingBinary {
		fmt.Fprintln(s.out, hex.EncodeToString(data))
	} else {
		fmt.Fprintln(s.out, string(data))
	}
	fmt.Fprintf(s.out, "(%d bytes)\n", len(data))
	return nil
}

func (s *shell) closeResult() error {
	if s.rs == nil {
		return nil
	}
	err := s.rs.Close()
	s.rs = nil
	return err
}
