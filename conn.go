package mallard

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mallarddb/mallard/ps"
	"github.com/mallarddb/mallard/sqlgen"
	"github.com/mallarddb/mallard/wire"
)

// connState tracks where a connection is in its lifecycle. Transitions
// only move forward out of errored and disconnected; a connection that
// fails is replaced by the pool, never repaired.
type connState int

const (
	stateConnecting connState = iota
	stateIdle
	stateBusy
	stateErrored
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateIdle:
		return "idle"
	case stateBusy:
		return "busy"
	case stateErrored:
		return "errored"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is one worker process presented as a database/sql driver
// connection. The pool treats worker processes the way it treats sockets:
// connect spawns one, Close terminates it, and any failure discards it.
type Conn struct {
	cfg    Config
	worker *ps.Worker
	ch     *channel
	log    *slog.Logger

	state connState
	inTx  bool
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)
	_ driver.SessionResetter    = (*Conn)(nil)
)

// connect spawns a worker, confirms it answers, and applies the
// configured settings, secrets and attachments. On any failure the worker
// is torn down and no connection is returned.
func connect(ctx context.Context, cfg Config) (*Conn, error) {
	log := cfg.Logger.With("component", "conn", "conn_id", uuid.NewString()[:8])

	worker, err := ps.Spawn(ps.Config{
		Path:   cfg.WorkerPath,
		Args:   cfg.WorkerArgs,
		Env:    cfg.WorkerEnv,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:    cfg,
		worker: worker,
		ch:     newChannel(worker, worker.Stdout(), worker.Done(), worker.ExitCode, cfg.MaxLineBytes, log),
		log:    log,
		state:  stateConnecting,
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := c.handshake(ctx); err != nil {
		c.teardown()
		return nil, err
	}

	if err := c.provision(ctx); err != nil {
		c.teardown()
		return nil, err
	}

	c.state = stateIdle
	log.Debug("Connection established", "worker_pid", worker.PID())

	return c, nil
}

// handshake issues a status command so a worker that launched but cannot
// speak the protocol fails connect instead of the first query.
func (c *Conn) handshake(ctx context.Context) error {
	res, err := c.roundTrip(ctx, wire.Status())
	if err != nil {
		return err
	}

	if len(res.Rows) > 0 && len(res.Rows[0]) > 0 {
		c.log.Debug("Worker handshake complete", "status", res.Rows[0][0])
	}

	return nil
}

// provision applies connect-time state in a fixed order: settings first,
// then secrets, then attachments, so attach targets that need credentials
// find their secrets already in place.
func (c *Conn) provision(ctx context.Context) error {
	keys := make([]string, 0, len(c.cfg.Settings))
	for key := range c.cfg.Settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := c.simpleExec(ctx, sqlgen.Set(key, c.cfg.Settings[key])); err != nil {
			return fmt.Errorf("applying setting %q: %w", key, err)
		}
	}

	for _, secret := range c.cfg.Secrets {
		options := secret.Options

		if secret.FromCredentialChain {
			resolved, err := sqlgen.ChainCredentials(ctx)
			if err != nil {
				return fmt.Errorf("resolving credentials for secret %q: %w", secret.Name, err)
			}

			merged := make(map[string]string, len(resolved)+len(options))
			for k, v := range resolved {
				merged[k] = v
			}
			for k, v := range options {
				merged[k] = v
			}
			options = merged
		}

		if err := c.simpleExec(ctx, sqlgen.CreateSecret(secret.Name, secret.Type, options)); err != nil {
			return fmt.Errorf("creating secret %q: %w", secret.Name, err)
		}
	}

	for _, attach := range c.cfg.Attach {
		if c.cfg.VerifyAttach {
			if err := sqlgen.VerifyObject(ctx, attach.Path, c.s3Options()); err != nil {
				return fmt.Errorf("verifying attach target %q: %w", attach.Path, err)
			}
		}

		if err := c.simpleExec(ctx, sqlgen.Attach(attach.Path, attach.Name, attach.ReadOnly, attach.Options)); err != nil {
			return fmt.Errorf("attaching %q: %w", attach.Path, err)
		}
	}

	return nil
}

// s3Options lifts credentials out of the first s3 secret, so attach
// verification authenticates the same way the worker will.
func (c *Conn) s3Options() *sqlgen.S3Options {
	for _, secret := range c.cfg.Secrets {
		if !strings.EqualFold(secret.Type, "s3") {
			continue
		}

		return &sqlgen.S3Options{
			AccessKey: secret.Options["KEY_ID"],
			SecretKey: secret.Options["SECRET"],
			Region:    secret.Options["REGION"],
			Endpoint:  secret.Options["ENDPOINT"],
		}
	}

	return nil
}

// teardown releases a half-built connection during connect.
func (c *Conn) teardown() {
	c.state = stateDisconnected
	c.ch.destroy()

	if err := c.worker.Terminate(c.cfg.GraceTimeout); err != nil {
		c.log.Warn("Failed to terminate worker during teardown", "error", err)
	}
}

// roundTrip sends one command and decodes the reply into either a result
// or an error from the taxonomy. SQL failures leave the connection idle;
// timeouts and transport failures move it to errored, where it stays.
func (c *Conn) roundTrip(ctx context.Context, cmd wire.Command) (*wire.Result, error) {
	switch c.state {
	case stateDisconnected:
		return nil, ErrClosed
	case stateErrored:
		if c.ch.dead != nil {
			return nil, c.ch.dead
		}

		return nil, ErrBusy
	}

	prev := c.state
	c.state = stateBusy

	reply, err := c.ch.call(ctx, cmd, c.cfg.CallTimeout)
	if err != nil {
		c.state = stateErrored
		return nil, err
	}

	c.state = prev

	switch r := reply.(type) {
	case *wire.Result:
		return r, nil
	case *wire.Failure:
		return nil, &SQLError{Message: r.Message, Command: cmd.Name}
	default:
		c.state = stateErrored
		return nil, &ProtocolError{Reason: "unhandled reply kind"}
	}
}

// roundTripFatal is roundTrip for transaction boundaries, where even a
// clean error reply means client and worker may disagree about whether a
// transaction is open. The only safe continuation is none.
func (c *Conn) roundTripFatal(ctx context.Context, cmd wire.Command) error {
	_, err := c.roundTrip(ctx, cmd)

	var sqlErr *SQLError
	if errors.As(err, &sqlErr) {
		c.state = stateErrored
		c.log.Error("Transaction command rejected, dropping connection", "command", cmd.Name, "error", sqlErr.Message)
	}

	return err
}

// prepare registers a statement with the worker and returns its cache
// slot. A reply with no slot means the cache is full, which is an
// ordinary recoverable error: close something and try again.
func (c *Conn) prepare(ctx context.Context, query string) (uint32, error) {
	res, err := c.roundTrip(ctx, wire.Prepare(query))
	if err != nil {
		return 0, err
	}

	id, ok, err := res.RefID()
	if err != nil {
		c.state = stateErrored
		return 0, &ProtocolError{Reason: "prepare reply: " + err.Error()}
	}

	if !ok {
		return 0, &SQLError{Message: "statement cache exhausted", Command: wire.CmdPrepare, cause: ErrCacheExhausted}
	}

	return id, nil
}

func (c *Conn) execute(ctx context.Context, stmt uint32, params []any) (*wire.Result, error) {
	return c.roundTrip(ctx, wire.Execute(stmt, params))
}

// declare runs a statement server-side and returns a cursor over its
// result.
func (c *Conn) declare(ctx context.Context, stmt uint32, params []any) (uint32, error) {
	res, err := c.roundTrip(ctx, wire.Declare(stmt, params))
	if err != nil {
		return 0, err
	}

	id, ok, err := res.RefID()
	if err != nil || !ok {
		c.state = stateErrored

		if err == nil {
			err = errors.New("reply carried no cursor id")
		}

		return 0, &ProtocolError{Reason: "declare reply: " + err.Error()}
	}

	return id, nil
}

func (c *Conn) fetch(ctx context.Context, stmt, cursor uint32) (*wire.Result, error) {
	return c.roundTrip(ctx, wire.Fetch(stmt, cursor))
}

func (c *Conn) deallocate(ctx context.Context, cursor uint32) error {
	_, err := c.roundTrip(ctx, wire.Deallocate(cursor))
	return err
}

func (c *Conn) closeStmt(ctx context.Context, stmt uint32) error {
	_, err := c.roundTrip(ctx, wire.Close(stmt))
	return err
}

// simpleExec runs one parameterless statement through the full
// prepare, execute, close cycle.
func (c *Conn) simpleExec(ctx context.Context, query string) error {
	id, err := c.prepare(ctx, query)
	if err != nil {
		return err
	}

	_, execErr := c.execute(ctx, id, nil)
	closeErr := c.closeStmt(ctx, id)

	if execErr != nil {
		return execErr
	}

	return closeErr
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	id, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	return &Stmt{conn: c, id: id, query: query}, nil
}

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx. The worker supports exactly one
// transaction mode, so any explicit option is rejected rather than
// silently downgraded.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.Isolation != 0 {
		return nil, errors.New("mallard: isolation levels are not configurable")
	}

	if opts.ReadOnly {
		return nil, errors.New("mallard: read-only transactions are not supported")
	}

	if c.inTx {
		return nil, errors.New("mallard: transaction already open on this connection")
	}

	if err := c.roundTripFatal(ctx, wire.Begin()); err != nil {
		return nil, err
	}

	c.inTx = true

	return &Tx{conn: c}, nil
}

// QueryContext implements driver.QueryerContext as the prepare, execute,
// close composition. With FetchSize set it declares a cursor instead and
// streams batches through Rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	id, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	params := wireParams(args)

	if c.cfg.FetchSize > 0 {
		rows, err := c.openCursor(ctx, id, params)
		if err != nil {
			if c.state == stateIdle {
				if closeErr := c.closeStmt(ctx, id); closeErr != nil {
					c.log.Warn("Failed to close statement after cursor failure", "stmt", id, "error", closeErr)
				}
			}

			return nil, err
		}

		return rows, nil
	}

	res, execErr := c.execute(ctx, id, params)
	closeErr := c.closeStmt(ctx, id)

	if execErr != nil {
		return nil, execErr
	}

	if closeErr != nil {
		return nil, closeErr
	}

	return newRows(c, res), nil
}

// openCursor declares a cursor and pulls its first batch, so Rows can
// report columns before the first Next call. The statement stays open for
// the cursor's lifetime; Rows.Close releases both.
func (c *Conn) openCursor(ctx context.Context, stmt uint32, params []any) (*Rows, error) {
	cursor, err := c.declare(ctx, stmt, params)
	if err != nil {
		return nil, err
	}

	first, err := c.fetch(ctx, stmt, cursor)
	if err != nil {
		if c.state == stateIdle {
			if dealErr := c.deallocate(ctx, cursor); dealErr != nil {
				c.log.Warn("Failed to release cursor", "cursor", cursor, "error", dealErr)
			}
		}

		return nil, err
	}

	return newCursorRows(c, stmt, cursor, first), nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	id, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	res, execErr := c.execute(ctx, id, wireParams(args))
	closeErr := c.closeStmt(ctx, id)

	if execErr != nil {
		return nil, execErr
	}

	if closeErr != nil {
		return nil, closeErr
	}

	return execResult{rows: res.NumRows}, nil
}

// Status asks the worker how it is doing. Reach it through sql.Conn.Raw:
//
//	conn.Raw(func(dc any) error {
//		status, err = dc.(*mallard.Conn).Status(ctx)
//		return err
//	})
func (c *Conn) Status(ctx context.Context) (string, error) {
	res, err := c.roundTrip(ctx, wire.Status())
	if err != nil {
		return "", err
	}

	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return "", &ProtocolError{Reason: "status reply carried no rows"}
	}

	status, ok := res.Rows[0][0].(string)
	if !ok {
		return "", &ProtocolError{Reason: "status reply is not text"}
	}

	return status, nil
}

// Ping implements driver.Pinger. It checks that the worker process is
// still alive and the channel can carry a command; it does not cross the
// wire, so a pool health check never competes with real commands.
func (c *Conn) Ping(ctx context.Context) error {
	if c.state != stateIdle || !c.ch.healthy() {
		return driver.ErrBadConn
	}

	return nil
}

// IsValid implements driver.Validator. The pool drops connections that
// report false instead of returning them to the idle list.
func (c *Conn) IsValid() bool {
	return c.state == stateIdle && !c.inTx && c.ch.healthy()
}

// ResetSession implements driver.SessionResetter, the checkout hook. A
// dead or tainted connection answers ErrBadConn and the pool dials a
// fresh worker instead.
func (c *Conn) ResetSession(ctx context.Context) error {
	if !c.IsValid() {
		return driver.ErrBadConn
	}

	return nil
}

// Close implements driver.Conn. It terminates the worker, waiting
// GraceTimeout for a clean exit before killing it. Closing twice is a
// no-op.
func (c *Conn) Close() error {
	if c.state == stateDisconnected {
		return nil
	}

	c.state = stateDisconnected
	c.ch.destroy()

	err := c.worker.Terminate(c.cfg.GraceTimeout)
	c.log.Debug("Connection closed")

	return err
}
