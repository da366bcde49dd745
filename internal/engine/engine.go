package engine

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mallarddb/mallard/wire"
)

// Options configure a reference engine.
type Options struct {
	// CacheCap is the prepared-statement cache capacity. Zero selects 1024,
	// the capacity of the production worker.
	CacheCap int
	// FetchBatch is the maximum number of rows a cursor fetch returns.
	// Zero selects 512.
	FetchBatch int
	// Logger receives command-level debug logging. nil discards.
	Logger *slog.Logger
}

// Engine is an in-memory database session speaking the worker wire protocol.
// One Engine serves exactly one connection, mirroring the production worker,
// so no locking is needed.
type Engine struct {
	opts Options
	log  *slog.Logger

	tables     map[string]*table
	settings   map[string]string
	attached   map[string]string
	secrets    map[string]string
	extensions map[string]bool

	cache      *stmtCache
	cursors    map[uint32]*cursor
	nextCursor uint32

	// snapshot holds the pre-transaction table state while a transaction
	// is open; nil otherwise.
	snapshot map[string]*table

	// garbage is set when the next reply must be emitted as a scrambled
	// line instead of JSON. Serve consumes it.
	garbage bool

	exit  func(int)
	sleep func(time.Duration)
}

// New creates an empty engine.
func New(opts Options) *Engine {
	if opts.CacheCap <= 0 {
		opts.CacheCap = 1024
	}
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = 512
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		opts:       opts,
		log:        logger.With("component", "engine"),
		tables:     make(map[string]*table),
		settings:   make(map[string]string),
		attached:   make(map[string]string),
		secrets:    make(map[string]string),
		extensions: make(map[string]bool),
		cache:      newStmtCache(opts.CacheCap),
		cursors:    make(map[uint32]*cursor),
		exit:       os.Exit,
		sleep:      time.Sleep,
	}
}

type table struct {
	cols []wire.Column
	rows [][]any
}

func (t *table) clone() *table {
	c := &table{cols: t.cols, rows: make([][]any, len(t.rows))}
	for i, row := range t.rows {
		c.rows[i] = append([]any(nil), row...)
	}
	return c
}

func (t *table) columnIndex(name string) int {
	for i, col := range t.cols {
		if col.Name == name {
			return i
		}
	}
	return -1
}

type cursor struct {
	cols []wire.Column
	rows [][]any
	pos  int
}

// Handle answers one decoded command with one reply.
func (e *Engine) Handle(cmd wire.Command) wire.Reply {
	e.log.Debug("Handling command", "command", cmd.Name)

	switch cmd.Name {
	case wire.CmdStatus:
		return &wire.Result{
			Columns: []wire.Column{{Name: "status", Type: wire.TypeUtf8}},
			Rows:    [][]any{{"running"}},
			NumRows: 1,
		}

	case wire.CmdBegin:
		if e.snapshot != nil {
			return &wire.Failure{Message: "cannot start a transaction within a transaction"}
		}
		e.snapshot = make(map[string]*table, len(e.tables))
		for name, t := range e.tables {
			e.snapshot[name] = t.clone()
		}
		return &wire.Result{}

	case wire.CmdCommit:
		if e.snapshot == nil {
			return &wire.Failure{Message: "no transaction is active"}
		}
		e.snapshot = nil
		return &wire.Result{}

	case wire.CmdRollback:
		if e.snapshot == nil {
			return &wire.Failure{Message: "no transaction is active"}
		}
		e.tables = e.snapshot
		e.snapshot = nil
		return &wire.Result{}

	case wire.CmdPrepare:
		stmt, err := parse(cmd.Query)
		if err != nil {
			return &wire.Failure{Message: err.Error()}
		}
		id, ok := e.cache.allocate(stmt)
		// The id is boxed as json.Number — the form it takes after a codec
		// round trip — so Result.RefID reads the reply the same on both
		// sides of the pipe. EncodeReply emits identical bytes either way.
		refID := any(json.Number(strconv.FormatUint(uint64(id), 10)))
		if !ok {
			refID = nil
		}
		return &wire.Result{
			Columns: []wire.Column{{Name: "ref", Type: wire.TypeUInt32}},
			Rows:    [][]any{{refID}},
			NumRows: 1,
		}

	case wire.CmdExecute:
		if cmd.Stmt == nil {
			return &wire.Failure{Message: "execute requires a statement id"}
		}
		if cmd.Cursor != nil {
			return e.fetch(*cmd.Cursor)
		}
		stmt, err := e.cache.get(*cmd.Stmt)
		if err != nil {
			return &wire.Failure{Message: err.Error()}
		}
		return e.run(stmt, cmd.Params)

	case wire.CmdDeclare:
		if cmd.Stmt == nil {
			return &wire.Failure{Message: "declare requires a statement id"}
		}
		stmt, err := e.cache.get(*cmd.Stmt)
		if err != nil {
			return &wire.Failure{Message: err.Error()}
		}
		if stmt.kind != stmtSelect {
			return &wire.Failure{Message: "only SELECT statements can be declared as cursors"}
		}
		reply := e.run(stmt, cmd.Params)
		result, ok := reply.(*wire.Result)
		if !ok {
			return reply
		}
		e.nextCursor++
		id := e.nextCursor
		e.cursors[id] = &cursor{cols: result.Columns, rows: result.Rows}
		return &wire.Result{
			Columns: []wire.Column{{Name: "ref", Type: wire.TypeUInt32}},
			Rows:    [][]any{{json.Number(strconv.FormatUint(uint64(id), 10))}},
			NumRows: 1,
		}

	case wire.CmdDeallocate:
		if cmd.Cursor != nil {
			delete(e.cursors, *cmd.Cursor)
		}
		return &wire.Result{}

	case wire.CmdClose:
		if cmd.Stmt != nil {
			e.cache.remove(*cmd.Stmt)
		}
		return &wire.Result{}

	default:
		return &wire.Failure{Message: fmt.Sprintf("unknown command %q", cmd.Name)}
	}
}

// fetch returns the next batch of rows from a declared cursor. An exhausted
// cursor answers an empty batch with num_rows 0.
func (e *Engine) fetch(id uint32) wire.Reply {
	cur, ok := e.cursors[id]
	if !ok {
		return &wire.Failure{Message: fmt.Sprintf("unknown cursor %d", id)}
	}

	end := cur.pos + e.opts.FetchBatch
	if end > len(cur.rows) {
		end = len(cur.rows)
	}
	batch := cur.rows[cur.pos:end]
	cur.pos = end

	return &wire.Result{
		Columns: cur.cols,
		Rows:    batch,
		NumRows: int64(len(batch)),
	}
}

// run executes a compiled statement with the given parameter values.
func (e *Engine) run(stmt *statement, params []any) wire.Reply {
	if stmt.placeholders != len(params) {
		return &wire.Failure{Message: fmt.Sprintf("statement expects %d parameters, got %d", stmt.placeholders, len(params))}
	}

	switch stmt.kind {
	case stmtSelect:
		return e.runSelect(stmt, params)
	case stmtInsert:
		return e.runInsert(stmt, params)
	case stmtUpdate:
		return e.runUpdate(stmt, params)
	case stmtDelete:
		return e.runDelete(stmt, params)
	case stmtCreateTable:
		if _, exists := e.tables[stmt.table]; exists {
			return &wire.Failure{Message: fmt.Sprintf("table %q already exists", stmt.table)}
		}
		e.tables[stmt.table] = &table{cols: stmt.columns}
		return &wire.Result{}
	case stmtDropTable:
		if _, exists := e.tables[stmt.table]; !exists {
			return &wire.Failure{Message: fmt.Sprintf("table %q does not exist", stmt.table)}
		}
		delete(e.tables, stmt.table)
		return &wire.Result{}
	case stmtSet:
		e.settings[stmt.key] = stmt.value
		return &wire.Result{}
	case stmtAttach:
		e.attached[stmt.key] = stmt.value
		return &wire.Result{}
	case stmtDetach:
		delete(e.attached, stmt.key)
		return &wire.Result{}
	case stmtCreateSecret:
		e.secrets[stmt.key] = stmt.value
		return &wire.Result{}
	case stmtDropSecret:
		delete(e.secrets, stmt.key)
		return &wire.Result{}
	case stmtInstall, stmtLoad:
		e.extensions[stmt.key] = true
		return &wire.Result{}
	case stmtSleep:
		e.sleep(time.Duration(stmt.sleepMs) * time.Millisecond)
		return &wire.Result{}
	case stmtCrash:
		e.log.Warn("Crash statement executed, exiting")
		e.exit(3)
		return &wire.Result{}
	case stmtGarbage:
		e.garbage = true
		return &wire.Result{}
	default:
		return &wire.Failure{Message: "unsupported statement"}
	}
}

func (e *Engine) runSelect(stmt *statement, params []any) wire.Reply {
	t, ok := e.tables[stmt.table]
	if !ok {
		return &wire.Failure{Message: fmt.Sprintf("table %q does not exist", stmt.table)}
	}

	// Resolve the projection to column indexes.
	var idx []int
	if stmt.projection == nil {
		idx = make([]int, len(t.cols))
		for i := range t.cols {
			idx[i] = i
		}
	} else {
		for _, name := range stmt.projection {
			i := t.columnIndex(name)
			if i < 0 {
				return &wire.Failure{Message: fmt.Sprintf("column %q does not exist", name)}
			}
			idx = append(idx, i)
		}
	}

	cols := make([]wire.Column, len(idx))
	for i, j := range idx {
		cols[i] = t.cols[j]
	}

	match, failure := e.matcher(t, stmt, params)
	if failure != nil {
		return failure
	}

	var rows [][]any
	for _, row := range t.rows {
		if !match(row) {
			continue
		}
		out := make([]any, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows = append(rows, out)
		if stmt.limit >= 0 && len(rows) >= stmt.limit {
			break
		}
	}

	return &wire.Result{Columns: cols, Rows: rows, NumRows: int64(len(rows))}
}

func (e *Engine) runInsert(stmt *statement, params []any) wire.Reply {
	t, ok := e.tables[stmt.table]
	if !ok {
		return &wire.Failure{Message: fmt.Sprintf("table %q does not exist", stmt.table)}
	}

	// Map the supplied values onto the table's column order.
	target := stmt.insertCols
	if target == nil {
		for _, col := range t.cols {
			target = append(target, col.Name)
		}
	}
	if len(stmt.values) != len(target) {
		return &wire.Failure{Message: fmt.Sprintf("%d values for %d columns", len(stmt.values), len(target))}
	}

	row := make([]any, len(t.cols))
	for i, name := range target {
		j := t.columnIndex(name)
		if j < 0 {
			return &wire.Failure{Message: fmt.Sprintf("column %q does not exist", name)}
		}
		val, err := coerce(stmt.values[i].resolve(params), t.cols[j].Type)
		if err != nil {
			return &wire.Failure{Message: err.Error()}
		}
		row[j] = val
	}

	t.rows = append(t.rows, row)
	return &wire.Result{NumRows: 1}
}

func (e *Engine) runUpdate(stmt *statement, params []any) wire.Reply {
	t, ok := e.tables[stmt.table]
	if !ok {
		return &wire.Failure{Message: fmt.Sprintf("table %q does not exist", stmt.table)}
	}

	type target struct {
		col int
		val any
	}
	var targets []target
	for _, set := range stmt.sets {
		j := t.columnIndex(set.column)
		if j < 0 {
			return &wire.Failure{Message: fmt.Sprintf("column %q does not exist", set.column)}
		}
		val, err := coerce(set.value.resolve(params), t.cols[j].Type)
		if err != nil {
			return &wire.Failure{Message: err.Error()}
		}
		targets = append(targets, target{col: j, val: val})
	}

	match, failure := e.matcher(t, stmt, params)
	if failure != nil {
		return failure
	}

	affected := 0
	for _, row := range t.rows {
		if !match(row) {
			continue
		}
		for _, tg := range targets {
			row[tg.col] = tg.val
		}
		affected++
	}
	return &wire.Result{NumRows: int64(affected)}
}

func (e *Engine) runDelete(stmt *statement, params []any) wire.Reply {
	t, ok := e.tables[stmt.table]
	if !ok {
		return &wire.Failure{Message: fmt.Sprintf("table %q does not exist", stmt.table)}
	}

	match, failure := e.matcher(t, stmt, params)
	if failure != nil {
		return failure
	}

	kept := t.rows[:0]
	affected := 0
	for _, row := range t.rows {
		if match(row) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return &wire.Result{NumRows: int64(affected)}
}

// matcher builds the row predicate for a statement's WHERE clause. A nil
// clause matches everything.
func (e *Engine) matcher(t *table, stmt *statement, params []any) (func([]any) bool, *wire.Failure) {
	if stmt.where == nil {
		return func([]any) bool { return true }, nil
	}

	j := t.columnIndex(stmt.where.column)
	if j < 0 {
		return nil, &wire.Failure{Message: fmt.Sprintf("column %q does not exist", stmt.where.column)}
	}
	want, err := coerce(stmt.where.value.resolve(params), t.cols[j].Type)
	if err != nil {
		return nil, &wire.Failure{Message: err.Error()}
	}

	return func(row []any) bool {
		return valuesEqual(row[j], want)
	}, nil
}

func valuesEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return a == b
}

// coerce converts a literal or bound parameter into the stored
// representation for a column type. Wire parameters arrive as json.Number,
// string, bool or nil; SQL literals arrive as int64, float64, string or bool.
func coerce(v any, colType string) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch colType {
	case wire.TypeInt32, wire.TypeInt64, wire.TypeUInt32, wire.TypeTimestampMicro:
		switch n := v.(type) {
		case int64:
			return n, nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("cannot bind %q to %s column", n.String(), colType)
			}
			return i, nil
		case float64:
			return int64(n), nil
		}
	case wire.TypeFloat64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("cannot bind %q to %s column", n.String(), colType)
			}
			return f, nil
		}
	case wire.TypeUtf8:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case wire.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case wire.TypeBlob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("cannot decode blob value: %v", err)
			}
			return decoded, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot bind %T value to %s column", v, colType)
}

// Settings returns the values applied by SET statements.
func (e *Engine) Settings() map[string]string {
	return e.settings
}

// Attached returns the databases attached by ATTACH statements.
func (e *Engine) Attached() map[string]string {
	return e.attached
}

// Secrets returns the names registered by CREATE SECRET statements.
func (e *Engine) Secrets() map[string]string {
	return e.secrets
}
