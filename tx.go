package mallard

import (
	"context"
	"database/sql/driver"

	"github.com/mallarddb/mallard/wire"
)

// Tx is an open worker transaction. A failed commit or rollback takes the
// connection with it: once the worker rejects a transaction boundary, the
// client can no longer know which side of it the session is on.
type Tx struct {
	conn *Conn
}

var _ driver.Tx = (*Tx)(nil)

// Commit implements driver.Tx.
func (tx *Tx) Commit() error {
	tx.conn.inTx = false
	return tx.conn.roundTripFatal(context.Background(), wire.Commit())
}

// Rollback implements driver.Tx.
func (tx *Tx) Rollback() error {
	tx.conn.inTx = false
	return tx.conn.roundTripFatal(context.Background(), wire.Rollback())
}
