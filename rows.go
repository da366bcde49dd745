package mallard

import (
	"context"
	"database/sql/driver"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/mallarddb/mallard/wire"
)

// Rows walks a result set. In materialized mode the whole set arrived in
// one reply and iteration never touches the wire again. In cursor mode
// each drained batch triggers a fetch for the next one.
type Rows struct {
	conn  *Conn
	cols  []wire.Column
	names []string
	batch [][]any
	pos   int

	cursorMode bool
	stmt       uint32
	cursor     uint32
	ownStmt    bool
	exhausted  bool
	closed     bool
}

var (
	_ driver.Rows                           = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*Rows)(nil)
)

func newRows(conn *Conn, res *wire.Result) *Rows {
	return &Rows{conn: conn, cols: res.Columns, batch: res.Rows}
}

func newCursorRows(conn *Conn, stmt, cursor uint32, first *wire.Result) *Rows {
	return &Rows{
		conn:       conn,
		cols:       first.Columns,
		batch:      first.Rows,
		cursorMode: true,
		stmt:       stmt,
		cursor:     cursor,
		ownStmt:    true,
		exhausted:  len(first.Rows) == 0,
	}
}

// Columns implements driver.Rows.
func (r *Rows) Columns() []string {
	if r.names == nil {
		r.names = make([]string, len(r.cols))

		for i, col := range r.cols {
			r.names[i] = col.Name
		}
	}

	return r.names
}

// Close implements driver.Rows. In cursor mode it releases the cursor,
// and the statement slot too when the cursor came from a one-shot query
// rather than a caller-held Stmt. Closing rows on a dead connection skips
// the wire; the worker is gone along with everything to release.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true

	if !r.cursorMode || r.conn.state != stateIdle {
		return nil
	}

	err := r.conn.deallocate(context.Background(), r.cursor)

	if r.ownStmt {
		closeErr := r.conn.closeStmt(context.Background(), r.stmt)
		if err == nil {
			err = closeErr
		}
	}

	return err
}

// Next implements driver.Rows.
func (r *Rows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}

	for r.pos >= len(r.batch) {
		if !r.cursorMode || r.exhausted {
			return io.EOF
		}

		res, err := r.conn.fetch(context.Background(), r.stmt, r.cursor)
		if err != nil {
			return err
		}

		if len(res.Rows) == 0 {
			r.exhausted = true
			return io.EOF
		}

		r.batch = res.Rows
		r.pos = 0
	}

	values, err := decodeRow(r.cols, r.batch[r.pos])
	if err != nil {
		// A reply that contradicts its own column header means the
		// worker is not holding up the contract; nothing later on this
		// connection can be trusted either.
		r.conn.state = stateErrored
		return err
	}

	r.pos++
	copy(dest, values)

	return nil
}

// ColumnTypeDatabaseTypeName reports the worker's type tag for a column,
// verbatim.
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	return r.cols[index].Type
}

var (
	scanTypeString = reflect.TypeOf("")
	scanTypeInt    = reflect.TypeOf(int64(0))
	scanTypeFloat  = reflect.TypeOf(float64(0))
	scanTypeBool   = reflect.TypeOf(false)
	scanTypeBytes  = reflect.TypeOf([]byte(nil))
	scanTypeTime   = reflect.TypeOf(time.Time{})
	scanTypeAny    = reflect.TypeOf((*any)(nil)).Elem()
)

// ColumnTypeScanType reports the Go type Next produces for a column.
func (r *Rows) ColumnTypeScanType(index int) reflect.Type {
	tag := r.cols[index].Type

	switch tag {
	case wire.TypeUtf8:
		return scanTypeString
	case wire.TypeInt8, wire.TypeInt16, wire.TypeInt32, wire.TypeInt64,
		wire.TypeUInt8, wire.TypeUInt16, wire.TypeUInt32, wire.TypeUInt64:
		return scanTypeInt
	case wire.TypeFloat32, wire.TypeFloat64:
		return scanTypeFloat
	case wire.TypeBoolean:
		return scanTypeBool
	case wire.TypeBlob:
		return scanTypeBytes
	}

	if strings.HasPrefix(tag, "Timestamp(Microsecond") {
		return scanTypeTime
	}

	return scanTypeAny
}
