package odbc

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// initialLOBFieldLen is the first chunk requested for an out-of-row value.
const initialLOBFieldLen = 2048

// cacheBuilder drains a live cursor into packed rows while keeping the
// bytes it has accounted under the configured limit.
type cacheBuilder struct {
	cursor  Cursor
	layout  *RowLayout
	limitKB int64
	limit   int64
	memUsed int64
}

// buildCache reads every remaining row of cursor. Either all rows are
// returned or none are: any failure drops everything materialized so far.
func buildCache(cursor Cursor, layout *RowLayout, limitKB int64) ([]*rowBuffer, int64, error) {
	b := &cacheBuilder{
		cursor:  cursor,
		layout:  layout,
		limitKB: limitKB,
		limit:   limitKB * 1024,
	}
	rows := make([]*rowBuffer, 0, 10)
	if len(layout.Columns) == 0 {
		return rows, 0, nil
	}
	for {
		ok, err := cursor.Fetch(SQL_FETCH_NEXT, 0)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "fetching row %d", len(rows)+1)
		}
		if !ok {
			break
		}
		row, err := b.readRow(len(rows) + 1)
		if err != nil {
			return nil, 0, err
		}
		rows = append(rows, row)
	}
	return rows, b.memUsed, nil
}

func (b *cacheBuilder) limitExceeded() error {
	bufferLimitExceededCounter.Inc()
	log.Warnf("buffered query exceeded memory limit of %d KB after %d bytes", b.limitKB, b.memUsed)
	return &BufferLimitError{LimitKB: b.limitKB}
}

func (b *cacheBuilder) readRow(rowNum int) (*rowBuffer, error) {
	row := newRowBuffer(b.layout)
	for i, col := range b.layout.Columns {
		column := i + 1
		if col.IsLOB() {
			block, err := b.readLOBField(column, col)
			if err != nil {
				return nil, err
			}
			if block == nil {
				row.setNull(i)
				continue
			}
			row.attachLOB(col, block)
			b.memUsed += int64(len(block) - lengthPrefixSize - terminatorSize(col.CType))
			continue
		}

		b.memUsed += int64(col.Length)
		if b.memUsed > b.limit {
			return nil, b.limitExceeded()
		}

		switch col.CType {
		case SQL_C_LONG, SQL_C_DOUBLE:
			ind, _, err := b.cursor.GetData(column, col.CType, row.data[col.Offset:col.Offset+col.Length])
			if err != nil {
				return nil, errors.Wrapf(err, "reading row %d column %d", rowNum, column)
			}
			if ind == SQL_NULL_DATA {
				row.setNull(i)
			}
		default:
			cell := row.data[col.Offset : col.Offset+col.Length]
			ind, truncated, err := b.cursor.GetData(column, col.CType, cell[lengthPrefixSize:])
			if err != nil {
				return nil, errors.Wrapf(err, "reading row %d column %d", rowNum, column)
			}
			if ind == SQL_NULL_DATA {
				row.setNull(i)
				continue
			}
			n := int(ind)
			if limit := col.capacity() - terminatorSize(col.CType); truncated || n < 0 || n > limit {
				log.Warnf("column %d (%s) of row %d holds more than its declared size %d, value clamped",
					column, col.Name, rowNum, limit)
				n = limit
			}
			putLengthPrefix(cell, n)
		}
	}
	return row, nil
}

// readLOBField materializes an unbounded value into a block laid out as
// [length prefix][data][terminator]. A NULL value yields a nil block.
func (b *cacheBuilder) readLOBField(column int, col ColumnLayout) ([]byte, error) {
	term := terminatorSize(col.CType)
	buf := make([]byte, lengthPrefixSize+initialLOBFieldLen+term)
	read, toRead := 0, initialLOBFieldLen

	for {
		ind, truncated, err := b.cursor.GetData(column, col.CType, buf[lengthPrefixSize+read:lengthPrefixSize+toRead+term])
		if err == io.EOF {
			ind, truncated = 0, false
		} else if err != nil {
			return nil, errors.Wrapf(err, "reading LOB column %d", column)
		}
		if ind == SQL_NULL_DATA {
			return nil, nil
		}

		if !truncated {
			n := int(ind)
			if n < 0 || n > toRead-read {
				n = toRead - read
			}
			total := read + n
			if b.memUsed+int64(total) > b.limit {
				return nil, b.limitExceeded()
			}
			putLengthPrefix(buf, total)
			return buf[:lengthPrefixSize+total+term], nil
		}

		if ind != SQL_NO_TOTAL {
			// the indicator is what remained before this read
			total := read + int(ind)
			if b.memUsed+int64(total) > b.limit {
				return nil, b.limitExceeded()
			}
			read = toRead
			if total > toRead {
				toRead = total
			} else {
				toRead *= 2
			}
		} else {
			read = toRead
			toRead *= 2
			if b.memUsed+int64(toRead) > b.limit {
				return nil, b.limitExceeded()
			}
		}
		buf = growBuffer(buf, lengthPrefixSize+toRead+term)
	}
}

func growBuffer(buf []byte, n int) []byte {
	if n <= cap(buf) {
		return buf[:n]
	}
	grown := make([]byte, n)
	copy(grown, buf)
	return grown
}
