package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Command tags understood by the worker.
const (
	CmdBegin      = "begin"
	CmdCommit     = "commit"
	CmdRollback   = "rollback"
	CmdPrepare    = "prepare"
	CmdDeclare    = "declare"
	CmdExecute    = "execute"
	CmdDeallocate = "deallocate"
	CmdClose      = "close"
	CmdStatus     = "status"
)

// Command represents one request to the worker. A Command is immutable once
// encoded; each one is answered by exactly one Reply on the same connection.
type Command struct {
	Name   string  `json:"command"`
	Query  string  `json:"query,omitempty"`
	Stmt   *uint32 `json:"stmt,omitempty"`
	Cursor *uint32 `json:"cursor,omitempty"`
	Params []any   `json:"params,omitempty"`
}

// Begin starts a transaction.
func Begin() Command { return Command{Name: CmdBegin} }

// Commit commits the open transaction.
func Commit() Command { return Command{Name: CmdCommit} }

// Rollback rolls back the open transaction.
func Rollback() Command { return Command{Name: CmdRollback} }

// Status asks the worker for a liveness report.
func Status() Command { return Command{Name: CmdStatus} }

// Prepare compiles a statement and allocates a slot for it in the worker's
// statement cache.
func Prepare(query string) Command {
	return Command{Name: CmdPrepare, Query: query}
}

// Execute runs a prepared statement with the given parameter values and
// returns the full result set.
func Execute(stmt uint32, params []any) Command {
	return Command{Name: CmdExecute, Stmt: &stmt, Params: params}
}

// Declare binds a prepared statement to a new cursor for incremental fetch.
func Declare(stmt uint32, params []any) Command {
	return Command{Name: CmdDeclare, Stmt: &stmt, Params: params}
}

// Fetch requests the next batch of rows from a declared cursor. There is no
// dedicated fetch tag on the wire; the worker recognizes an execute that
// names a cursor instead of parameters.
func Fetch(stmt, cursor uint32) Command {
	return Command{Name: CmdExecute, Stmt: &stmt, Cursor: &cursor}
}

// Deallocate drops a cursor. Unknown cursor ids are acknowledged anyway.
func Deallocate(cursor uint32) Command {
	return Command{Name: CmdDeallocate, Cursor: &cursor}
}

// Close releases a prepared statement's cache slot. Unknown statement ids
// are acknowledged anyway, which makes closing idempotent.
func Close(stmt uint32) Command {
	return Command{Name: CmdClose, Stmt: &stmt}
}

// EncodeCommand serializes a Command to JSON with a trailing newline, ready
// to write to the worker's standard input. Commands are built from
// marshalable values only, so a marshal failure indicates a bug in the
// caller and panics.
func EncodeCommand(cmd Command) []byte {
	data, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("wire: cannot encode %s command: %v", cmd.Name, err))
	}
	return append(data, '\n')
}

// DecodeCommand parses one request line into a Command. It is the worker
// side of the codec. Numeric parameters are decoded as json.Number so
// integer-valued parameters keep their precision.
func DecodeCommand(line []byte) (Command, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, &DecodeError{Reason: err.Error()}
	}
	if cmd.Name == "" {
		return Command{}, &DecodeError{Reason: "request has no command tag"}
	}
	return cmd, nil
}
