package mallard

import (
	"context"
	"database/sql/driver"
	"time"
)

// Stmt is a prepared statement held in one slot of the worker's statement
// cache. It is bound to the connection that prepared it.
type Stmt struct {
	conn   *Conn
	id     uint32
	query  string
	closed bool
}

var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

// Close releases the statement's cache slot. Closing twice, or closing
// after the connection has gone away, is a no-op.
func (s *Stmt) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if s.conn.state != stateIdle {
		return nil
	}

	return s.conn.closeStmt(context.Background(), s.id)
}

// NumInput reports -1: the worker counts placeholders itself and rejects
// a mismatched parameter list with an ordinary SQL error.
func (s *Stmt) NumInput() int {
	return -1
}

// Exec implements driver.Stmt.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if s.closed {
		return nil, ErrClosed
	}

	res, err := s.conn.execute(ctx, s.id, wireParams(args))
	if err != nil {
		return nil, err
	}

	return execResult{rows: res.NumRows}, nil
}

// Query implements driver.Stmt.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// QueryContext implements driver.StmtQueryContext. With FetchSize set the
// result streams through a cursor; the cursor shares the statement's
// slot, so the statement must stay open while its rows are read.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if s.closed {
		return nil, ErrClosed
	}

	params := wireParams(args)

	if s.conn.cfg.FetchSize > 0 {
		rows, err := s.conn.openCursor(ctx, s.id, params)
		if err != nil {
			return nil, err
		}

		// Rows.Close must not free the slot out from under a caller
		// who still holds the Stmt.
		rows.ownStmt = false

		return rows, nil
	}

	res, err := s.conn.execute(ctx, s.id, params)
	if err != nil {
		return nil, err
	}

	return newRows(s.conn, res), nil
}

// wireParams converts bound arguments into their wire form. Times become
// microsecond counts since the Unix epoch; the remaining driver.Value
// kinds already marshal the way the worker expects, byte slices included,
// which JSON carries as base64.
func wireParams(args []driver.NamedValue) []any {
	if len(args) == 0 {
		return nil
	}

	params := make([]any, len(args))

	for i, arg := range args {
		switch v := arg.Value.(type) {
		case time.Time:
			params[i] = v.UnixMicro()
		default:
			params[i] = v
		}
	}

	return params
}

// namedValues adapts the pre-context argument form.
func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))

	for i, arg := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}

	return named
}
