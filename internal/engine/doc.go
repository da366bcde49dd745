// Package engine implements the reference worker: an in-memory database
// session that speaks the wire protocol over stdio.
//
// The production worker wraps DuckDB; this engine exists so the driver, its
// tests and the CLI can run without a DuckDB build. It supports the SQL
// subset the driver exercises:
//
//	CREATE TABLE t (name TEXT, data INT)
//	DROP TABLE t
//	INSERT INTO t [(cols)] VALUES (?, 'x', 1)
//	SELECT * | col, ... FROM t [WHERE col = value] [LIMIT n]
//	UPDATE t SET col = value [WHERE col = value]
//	DELETE FROM t [WHERE col = value]
//	SET key = value
//	ATTACH 'path' [AS name], DETACH, INSTALL, LOAD,
//	CREATE SECRET name (...), DROP SECRET name
//
// Transactions (begin/commit/rollback commands) snapshot the full table
// state; prepared statements live in a fixed-capacity slot cache exactly
// like the production worker's, and SELECTs can be declared as cursors and
// fetched in batches.
//
// Three diagnostics statements exist for fault-injection tests: SLEEP <ms>
// delays the reply, CRASH exits the process mid-command, and GARBAGE makes
// the next reply an unparseable line.
package engine
