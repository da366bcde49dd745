package mallard

import (
	"errors"
	"fmt"
	"time"

	"github.com/mallarddb/mallard/ps"
)

// SpawnError reports a failure to launch the worker executable. It is
// returned from Connect before any connection exists.
type SpawnError = ps.SpawnError

var (
	// ErrBusy is returned when a command is issued while an earlier
	// command on the same connection is still awaiting its reply. The
	// protocol allows one command in flight per connection.
	ErrBusy = errors.New("mallard: connection busy with an earlier command")

	// ErrCacheExhausted is wrapped by the SQLError returned when the
	// worker's statement cache has no free slot. Close an open statement
	// and prepare again.
	ErrCacheExhausted = errors.New("statement cache exhausted")

	// ErrClosed is returned when a command is issued on a connection
	// that has already been closed.
	ErrClosed = errors.New("mallard: connection closed")

	// ErrRollback can be returned from a Transaction callback to roll
	// the transaction back without surfacing an error to the caller.
	ErrRollback = errors.New("mallard: rollback requested")
)

// TransportError reports that the connection to the worker broke while a
// command was in flight or being written. The connection is dead and must
// be discarded; the pool does this automatically.
type TransportError struct {
	Command string
	Elapsed time.Duration
	Err     error
}

func (e *TransportError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("worker connection lost: %v", e.Err)
	}

	return fmt.Sprintf("worker connection lost during %s: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a command did not receive its reply within the
// configured deadline. The connection is left awaiting the stale reply and
// refuses further commands; discard it. The command may still have taken
// effect on the worker, so callers must not blindly retry.
type TimeoutError struct {
	Command string
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete within %s", e.Command, e.Elapsed)
}

// Timeout reports true so the error satisfies net.Error style checks.
func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// SQLError carries an error reply from the worker. The message is the
// worker's text, verbatim. The connection remains usable unless the failed
// command was begin, commit or rollback.
type SQLError struct {
	Message string
	Command string
	cause   error
}

func (e *SQLError) Error() string {
	return e.Message
}

func (e *SQLError) Unwrap() error {
	return e.cause
}

// ProtocolError reports a reply that violates the wire contract, such as a
// row whose width differs from the advertised column list.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}
