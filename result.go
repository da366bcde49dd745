package mallard

import (
	"database/sql/driver"
	"errors"
)

// execResult reports how many rows a statement touched. The worker keys
// nothing on insertion order, so there is no last-insert id to hand out.
type execResult struct {
	rows int64
}

var _ driver.Result = execResult{}

func (r execResult) LastInsertId() (int64, error) {
	return 0, errors.New("mallard: last insert id is not supported")
}

func (r execResult) RowsAffected() (int64, error) {
	return r.rows, nil
}
