package mallard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Status reports the worker status line for one pooled connection. It
// borrows a connection, crosses the wire once and returns it.
func Status(ctx context.Context, db *sql.DB) (string, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var status string

	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*Conn)
		if !ok {
			return fmt.Errorf("connection is %T, not a mallard connection", driverConn)
		}

		status, err = c.Status(ctx)

		return err
	})

	return status, err
}

// Transaction runs fn inside a transaction. A nil return commits; any
// error rolls back and is returned. Returning ErrRollback rolls back
// without reporting an error, for callers who use the transaction as a
// trial run. A panic in fn rolls back and re-panics.
func Transaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		rollbackErr := tx.Rollback()

		if errors.Is(err, ErrRollback) {
			return rollbackErr
		}

		if rollbackErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rollbackErr)
		}

		return err
	}

	return tx.Commit()
}

// MustExec runs a statement and panics on error. The panic carries the
// worker's error verbatim.
func MustExec(ctx context.Context, db *sql.DB, query string, args ...any) sql.Result {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		panic(err)
	}

	return res
}

// MustQuery runs a query and panics on error. The caller still owns the
// returned rows and must close them.
func MustQuery(ctx context.Context, db *sql.DB, query string, args ...any) *sql.Rows {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		panic(err)
	}

	return rows
}

// MustPrepare prepares a statement and panics on error.
func MustPrepare(ctx context.Context, db *sql.DB, query string) *sql.Stmt {
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		panic(err)
	}

	return stmt
}
