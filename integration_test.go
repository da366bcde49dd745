package mallard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mallarddb/mallard/internal/engine"
	"github.com/mallarddb/mallard/wire"
)

// TestMain doubles as the worker: tests spawn this binary again with
// MALLARD_TEST_MODE=worker and drive it over stdio like any other worker
// process.
func TestMain(m *testing.M) {
	if os.Getenv("MALLARD_TEST_MODE") == "worker" {
		runTestWorker()
		return
	}

	os.Exit(m.Run())
}

func runTestWorker() {
	opts := engine.Options{}

	if v := os.Getenv("MALLARD_TEST_CACHE_CAP"); v != "" {
		opts.CacheCap, _ = strconv.Atoi(v)
	}

	if v := os.Getenv("MALLARD_TEST_BATCH"); v != "" {
		opts.FetchBatch, _ = strconv.Atoi(v)
	}

	if err := engine.Serve(os.Stdin, os.Stdout, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openTestDB opens a pool over the re-exec worker, pinned to a single
// connection so every statement lands on the same worker process.
func openTestDB(t *testing.T, mutate func(*Config)) *sql.DB {
	t.Helper()

	cfg := Config{
		WorkerPath: os.Args[0],
		WorkerEnv:  []string{"MALLARD_TEST_MODE=worker"},
	}

	if mutate != nil {
		mutate(&cfg)
	}

	db, err := OpenDB(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}

func mustExecSetup(t *testing.T, db *sql.DB, statements ...string) {
	t.Helper()

	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}
}

// TestDriverWorkflow walks a complete session: create, insert with
// parameters, query with column metadata, update, delete.
func TestDriverWorkflow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db, "CREATE TABLE items (name TEXT, data INT)")

	// Insert with bound parameters
	res, err := db.ExecContext(ctx, "INSERT INTO items (name, data) VALUES (?, ?)", "Foo", 1)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		t.Errorf("Expected 1 row affected, got %d", affected)
	}

	// Query back with column metadata
	rows, err := db.QueryContext(ctx, "SELECT name, data FROM items WHERE data = ?", 1)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		t.Fatalf("Failed to read column types: %v", err)
	}

	if len(types) != 2 {
		t.Fatalf("Expected 2 columns, got %d", len(types))
	}

	if types[0].Name() != "name" || types[0].DatabaseTypeName() != "Utf8" {
		t.Errorf("Column 0 is %s %s, expected name Utf8", types[0].Name(), types[0].DatabaseTypeName())
	}

	if types[1].Name() != "data" || types[1].DatabaseTypeName() != "Int32" {
		t.Errorf("Column 1 is %s %s, expected data Int32", types[1].Name(), types[1].DatabaseTypeName())
	}

	if !rows.Next() {
		t.Fatalf("Expected a row: %v", rows.Err())
	}

	var name string
	var data int64
	if err := rows.Scan(&name, &data); err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}

	if name != "Foo" || data != 1 {
		t.Errorf("Expected (Foo, 1), got (%s, %d)", name, data)
	}

	if rows.Next() {
		t.Error("Expected exactly one row")
	}
	rows.Close()

	// Update
	res, err = db.ExecContext(ctx, "UPDATE items SET data = ? WHERE name = ?", 2, "Foo")
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		t.Errorf("Expected 1 row updated, got %d", affected)
	}

	// Delete
	res, err = db.ExecContext(ctx, "DELETE FROM items WHERE data = ?", 2)
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		t.Errorf("Expected 1 row deleted, got %d", affected)
	}

	var rest int
	result, err := db.QueryContext(ctx, "SELECT name FROM items")
	if err != nil {
		t.Fatalf("Failed to query after delete: %v", err)
	}
	for result.Next() {
		rest++
	}
	result.Close()

	if rest != 0 {
		t.Errorf("Expected empty table, got %d rows", rest)
	}
}

func TestPreparedStatementReuse(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db, "CREATE TABLE users (id INT, name TEXT)")

	stmt, err := db.PrepareContext(ctx, "INSERT INTO users (id, name) VALUES (?, ?)")
	if err != nil {
		t.Fatalf("Failed to prepare: %v", err)
	}
	defer stmt.Close()

	for i := 1; i <= 3; i++ {
		if _, err := stmt.ExecContext(ctx, i, "user"+strconv.Itoa(i)); err != nil {
			t.Fatalf("Failed to execute insert %d: %v", i, err)
		}
	}

	var count int
	rows, err := db.QueryContext(ctx, "SELECT id FROM users")
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	for rows.Next() {
		count++
	}
	rows.Close()

	if count != 3 {
		t.Errorf("Expected 3 rows, got %d", count)
	}
}

// TestInvalidSQLIsRecoverable checks that a prepare failure is an
// ordinary error: the reply arrives, names the problem and leaves the
// connection in service.
func TestInvalidSQLIsRecoverable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to pin connection: %v", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "SELEKT wat")

	var sqlErr *SQLError
	if !errors.As(err, &sqlErr) {
		t.Fatalf("Expected a SQL error, got %v", err)
	}

	if sqlErr.Command != wire.CmdPrepare {
		t.Errorf("Expected the error to come from prepare, got %q", sqlErr.Command)
	}

	// The same connection keeps working.
	if _, err := conn.ExecContext(ctx, "CREATE TABLE alive (id INT)"); err != nil {
		t.Fatalf("Connection unusable after SQL error: %v", err)
	}
}

func TestStatementCacheExhaustion(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, func(cfg *Config) {
		cfg.WorkerEnv = append(cfg.WorkerEnv, "MALLARD_TEST_CACHE_CAP=2")
	})

	mustExecSetup(t, db, "CREATE TABLE slots (id INT)")

	first, err := db.PrepareContext(ctx, "SELECT id FROM slots WHERE id = ?")
	if err != nil {
		t.Fatalf("Failed to prepare first statement: %v", err)
	}
	defer first.Close()

	second, err := db.PrepareContext(ctx, "SELECT id FROM slots")
	if err != nil {
		t.Fatalf("Failed to prepare second statement: %v", err)
	}
	defer second.Close()

	_, err = db.PrepareContext(ctx, "SELECT id FROM slots LIMIT 1")
	if !errors.Is(err, ErrCacheExhausted) {
		t.Fatalf("Expected cache exhaustion, got %v", err)
	}

	var sqlErr *SQLError
	if !errors.As(err, &sqlErr) {
		t.Fatalf("Expected exhaustion to be a SQL error, got %v", err)
	}

	// Freeing a slot makes prepare work again.
	if err := first.Close(); err != nil {
		t.Fatalf("Failed to close statement: %v", err)
	}

	third, err := db.PrepareContext(ctx, "SELECT id FROM slots LIMIT 1")
	if err != nil {
		t.Fatalf("Failed to prepare after freeing a slot: %v", err)
	}
	third.Close()
}

// TestDoubleCloseIdempotent closes a statement twice at the driver level.
func TestDoubleCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db, "CREATE TABLE things (id INT)")

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to pin connection: %v", err)
	}
	defer conn.Close()

	err = conn.Raw(func(dc any) error {
		stmt, err := dc.(*Conn).PrepareContext(ctx, "SELECT id FROM things")
		if err != nil {
			return err
		}

		if err := stmt.Close(); err != nil {
			return fmt.Errorf("first close: %w", err)
		}

		if err := stmt.Close(); err != nil {
			return fmt.Errorf("second close: %w", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Failed to close statement twice: %v", err)
	}

	// The connection is untouched by the redundant close.
	if _, err := conn.ExecContext(ctx, "INSERT INTO things (id) VALUES (?)", 1); err != nil {
		t.Fatalf("Connection unusable after double close: %v", err)
	}
}

func TestTransactionRollbackInvisible(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db,
		"CREATE TABLE ledger (entry TEXT)",
		"INSERT INTO ledger (entry) VALUES ('base')",
	)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO ledger (entry) VALUES ('doomed')"); err != nil {
		t.Fatalf("Failed to insert in transaction: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	entries := countRows(t, db, "SELECT entry FROM ledger")
	if entries != 1 {
		t.Errorf("Expected rolled back insert to be invisible, found %d rows", entries)
	}

	// And a committed transaction is visible.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin second transaction: %v", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO ledger (entry) VALUES ('kept')"); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	if entries := countRows(t, db, "SELECT entry FROM ledger"); entries != 2 {
		t.Errorf("Expected 2 rows after commit, found %d", entries)
	}
}

func countRows(t *testing.T, db *sql.DB, query string) int {
	t.Helper()

	rows, err := db.QueryContext(context.Background(), query)
	if err != nil {
		t.Fatalf("Failed to query %q: %v", query, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}

	if err := rows.Err(); err != nil {
		t.Fatalf("Failed while iterating: %v", err)
	}

	return count
}

// TestTransactionBoundaryFailureKillsConnection issues a commit with no
// transaction open. The worker answers with an ordinary error reply, but
// a rejected transaction boundary still costs the connection.
func TestTransactionBoundaryFailureKillsConnection(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to pin connection: %v", err)
	}

	err = conn.Raw(func(dc any) error {
		c := dc.(*Conn)

		err := c.roundTripFatal(ctx, wire.Commit())

		var sqlErr *SQLError
		if !errors.As(err, &sqlErr) {
			return fmt.Errorf("expected a SQL error, got %v", err)
		}

		if c.state != stateErrored {
			return fmt.Errorf("expected the connection to be errored, state is %s", c.state)
		}

		if c.IsValid() {
			return errors.New("expected the connection to be invalid")
		}

		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	// The pool replaces the dead connection transparently.
	if _, err := db.ExecContext(ctx, "CREATE TABLE fresh (id INT)"); err != nil {
		t.Fatalf("Failed to execute on a fresh connection: %v", err)
	}
}

// TestWorkerCrashMidCall kills the worker while a command is in flight
// and expects a prompt transport error, not a hang.
func TestWorkerCrashMidCall(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db, "CREATE TABLE before (id INT)")

	start := time.Now()
	_, err := db.ExecContext(ctx, "CRASH")

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("Expected a transport error, got %v", err)
	}

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Expected the exit to surface promptly, took %s", elapsed)
	}

	// The next statement runs on a freshly spawned worker.
	if _, err := db.ExecContext(ctx, "CREATE TABLE after (id INT)"); err != nil {
		t.Fatalf("Failed to execute after crash: %v", err)
	}
}

// TestCallTimeoutTaint runs a statement slower than the call timeout. The
// caller gets a timeout error and the tainted connection never serves
// again; the pool dials a replacement.
func TestCallTimeoutTaint(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, func(cfg *Config) {
		cfg.CallTimeout = 150 * time.Millisecond
	})

	start := time.Now()
	_, err := db.ExecContext(ctx, "SLEEP 2000")

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected a timeout error, got %v", err)
	}

	if !timeout.Timeout() {
		t.Error("Expected Timeout() to report true")
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected the timeout to fire at 150ms, took %s", elapsed)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE recovered (id INT)"); err != nil {
		t.Fatalf("Failed to execute after timeout: %v", err)
	}
}

func TestCursorStreaming(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, func(cfg *Config) {
		cfg.FetchSize = 2
		cfg.WorkerEnv = append(cfg.WorkerEnv, "MALLARD_TEST_BATCH=2")
	})

	mustExecSetup(t, db, "CREATE TABLE stream (id INT)")

	for i := 1; i <= 5; i++ {
		if _, err := db.ExecContext(ctx, "INSERT INTO stream (id) VALUES (?)", i); err != nil {
			t.Fatalf("Failed to insert %d: %v", i, err)
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT id FROM stream")
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Failed to scan: %v", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		t.Fatalf("Failed while streaming: %v", err)
	}
	rows.Close()

	if len(ids) != 5 {
		t.Fatalf("Expected 5 rows across batches, got %d", len(ids))
	}

	for i, id := range ids {
		if id != int64(i+1) {
			t.Errorf("Row %d is %d, expected %d", i, id, i+1)
		}
	}

	// An empty result set still opens and closes cleanly.
	if got := countRows(t, db, "SELECT id FROM stream WHERE id = 99"); got != 0 {
		t.Errorf("Expected no rows, got %d", got)
	}

	// The connection survives the whole exercise.
	if _, err := db.ExecContext(ctx, "INSERT INTO stream (id) VALUES (?)", 6); err != nil {
		t.Fatalf("Connection unusable after cursor streaming: %v", err)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db, "CREATE TABLE events (at TIMESTAMP)")

	moments := []time.Time{
		time.Date(2024, 3, 1, 12, 34, 56, 789123000, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC),
		time.UnixMicro(1).UTC(),
	}

	for _, want := range moments {
		if _, err := db.ExecContext(ctx, "INSERT INTO events (at) VALUES (?)", want); err != nil {
			t.Fatalf("Failed to insert %s: %v", want, err)
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT at FROM events")
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	defer rows.Close()

	for _, want := range moments {
		if !rows.Next() {
			t.Fatalf("Missing row for %s: %v", want, rows.Err())
		}

		var got time.Time
		if err := rows.Scan(&got); err != nil {
			t.Fatalf("Failed to scan: %v", err)
		}

		if !got.Equal(want) {
			t.Errorf("Expected %s, got %s", want.Format(time.RFC3339Nano), got.Format(time.RFC3339Nano))
		}
	}
}

func TestParamCountMismatchKeepsStatementUsable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db,
		"CREATE TABLE nums (id INT)",
		"INSERT INTO nums (id) VALUES (1)",
	)

	stmt, err := db.PrepareContext(ctx, "SELECT id FROM nums WHERE id = ?")
	if err != nil {
		t.Fatalf("Failed to prepare: %v", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)

	var sqlErr *SQLError
	if !errors.As(err, &sqlErr) {
		t.Fatalf("Expected a SQL error for the missing parameter, got %v", err)
	}

	// Same statement, right arity.
	rows, err := stmt.QueryContext(ctx, 1)
	if err != nil {
		t.Fatalf("Statement unusable after arity error: %v", err)
	}

	if !rows.Next() {
		t.Errorf("Expected a row: %v", rows.Err())
	}
	rows.Close()
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	status, err := Status(ctx, db)
	if err != nil {
		t.Fatalf("Failed to read status: %v", err)
	}

	if status != "running" {
		t.Errorf("Expected running, got %q", status)
	}

	if err := db.PingContext(ctx); err != nil {
		t.Errorf("Failed to ping: %v", err)
	}
}

// TestConnectProvisioning runs the full connect sequence: settings,
// secrets and a verified local attach target.
func TestConnectProvisioning(t *testing.T) {
	ctx := context.Background()

	attachPath := filepath.Join(t.TempDir(), "aux.db")
	if err := os.WriteFile(attachPath, []byte("stub"), 0o644); err != nil {
		t.Fatalf("Failed to write attach target: %v", err)
	}

	db := openTestDB(t, func(cfg *Config) {
		cfg.Settings = map[string]string{"threads": "4", "memory_limit": "2GB"}
		cfg.Secrets = []SecretSpec{{
			Name:    "minio",
			Type:    "s3",
			Options: map[string]string{"KEY_ID": "abc", "SECRET": "shh"},
		}}
		cfg.Attach = []AttachSpec{{Path: attachPath, Name: "aux", ReadOnly: true}}
		cfg.VerifyAttach = true
	})

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to connect with provisioning: %v", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE provisioned (id INT)"); err != nil {
		t.Fatalf("Failed to execute after provisioning: %v", err)
	}
}

func TestConnectVerifyAttachFails(t *testing.T) {
	db := openTestDB(t, func(cfg *Config) {
		cfg.Attach = []AttachSpec{{Path: filepath.Join(t.TempDir(), "missing.db")}}
		cfg.VerifyAttach = true
	})

	if err := db.PingContext(context.Background()); err == nil {
		t.Fatal("Expected connect to fail for a missing attach target")
	}
}

func TestConnectSpawnFailure(t *testing.T) {
	db := openTestDB(t, func(cfg *Config) {
		cfg.WorkerPath = filepath.Join(t.TempDir(), "no-such-worker")
	})

	err := db.PingContext(context.Background())

	var spawn *SpawnError
	if !errors.As(err, &spawn) {
		t.Fatalf("Expected a spawn error, got %v", err)
	}
}

func TestSqlxCompat(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db,
		"CREATE TABLE people (id INT, name TEXT)",
		"INSERT INTO people (id, name) VALUES (1, 'Alice')",
		"INSERT INTO people (id, name) VALUES (2, 'Bob')",
	)

	sdb := sqlx.NewDb(db, DriverName)

	type person struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}

	var people []person
	if err := sdb.SelectContext(ctx, &people, "SELECT id, name FROM people"); err != nil {
		t.Fatalf("Failed to select: %v", err)
	}

	if len(people) != 2 || people[0].Name != "Alice" || people[1].ID != 2 {
		t.Errorf("Selected %+v", people)
	}

	var one person
	if err := sdb.GetContext(ctx, &one, "SELECT id, name FROM people WHERE id = ?", 2); err != nil {
		t.Fatalf("Failed to get: %v", err)
	}

	if one.Name != "Bob" {
		t.Errorf("Expected Bob, got %+v", one)
	}
}

func TestTransactionHelper(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	mustExecSetup(t, db, "CREATE TABLE audit (entry TEXT)")

	// Commit path
	err := Transaction(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO audit (entry) VALUES ('kept')")
		return err
	})
	if err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	// Explicit rollback via the sentinel reports no error.
	err = Transaction(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO audit (entry) VALUES ('trial')"); err != nil {
			return err
		}
		return ErrRollback
	})
	if err != nil {
		t.Fatalf("Expected ErrRollback to be swallowed, got %v", err)
	}

	// A real error rolls back and propagates.
	boom := errors.New("boom")
	err = Transaction(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO audit (entry) VALUES ('broken')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if entries := countRows(t, db, "SELECT entry FROM audit"); entries != 1 {
		t.Errorf("Expected only the committed row, found %d", entries)
	}
}

func TestMustHelpersCarryWorkerMessage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	direct := func() (err error) {
		_, err = db.ExecContext(ctx, "SELEKT wat")
		return err
	}()
	if direct == nil {
		t.Fatal("Expected the bad statement to fail")
	}

	defer func() {
		p := recover()
		if p == nil {
			t.Fatal("Expected MustExec to panic")
		}

		panicked, ok := p.(error)
		if !ok {
			t.Fatalf("Expected the panic to carry an error, got %T", p)
		}

		if panicked.Error() != direct.Error() {
			t.Errorf("Panic message %q differs from error message %q", panicked.Error(), direct.Error())
		}
	}()

	MustExec(ctx, db, "SELEKT wat")
}
