// Package mallard is a database/sql driver that runs each connection as
// its own database worker process, speaking newline-delimited JSON over
// the worker's stdin and stdout.
//
// The pool treats worker processes like sockets: opening a connection
// spawns a worker, closing one terminates it, and a worker that fails is
// discarded and replaced. Exactly one command is in flight per connection
// at a time, which is how commands and replies stay paired on a wire that
// carries no request ids.
//
// # Quick Start
//
// Open a pool backed by a worker binary:
//
//	db, err := mallard.OpenDB(mallard.Config{
//		WorkerPath: "/usr/local/bin/duckdb-worker",
//		Settings:   map[string]string{"threads": "4"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	db.ExecContext(ctx, "CREATE TABLE users (id INT, name TEXT)")
//	db.ExecContext(ctx, "INSERT INTO users VALUES (?, ?)", 1, "Alice")
//
//	rows, err := db.QueryContext(ctx, "SELECT name FROM users WHERE id = ?", 1)
//
// Or through the standard registry:
//
//	db, err := sql.Open("mallard", "/usr/local/bin/duckdb-worker?call_timeout=5s")
//
// # Connection Provisioning
//
// Each new connection can be provisioned before it is handed to the pool:
//   - Settings: applied as SET statements
//   - Secrets: created before anything is attached
//   - Attach: databases attached by path, local or s3://
//
// # Error Handling
//
// Errors split into recoverable and fatal. A SQL error from the worker
// leaves the connection in service. A timeout, a transport failure or a
// failed transaction boundary kills the connection; the pool spawns a
// fresh worker for the next caller. Inspect errors with errors.As against
// SQLError, TimeoutError, TransportError and ProtocolError, and with
// errors.Is against ErrBusy and ErrCacheExhausted.
package mallard
