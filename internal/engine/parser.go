package engine

import (
	"fmt"
	"strconv"

	"github.com/mallarddb/mallard/wire"
)

type stmtKind int

const (
	stmtSelect stmtKind = iota
	stmtInsert
	stmtUpdate
	stmtDelete
	stmtCreateTable
	stmtDropTable
	stmtSet
	stmtAttach
	stmtDetach
	stmtCreateSecret
	stmtDropSecret
	stmtInstall
	stmtLoad
	stmtSleep
	stmtCrash
	stmtGarbage
)

// expr is a literal value or a reference to a bound parameter.
type expr struct {
	param bool
	index int
	value any
}

func (e expr) resolve(params []any) any {
	if e.param {
		return params[e.index]
	}
	return e.value
}

type setClause struct {
	column string
	value  expr
}

type whereClause struct {
	column string
	value  expr
}

// statement is a compiled statement held in the cache until closed.
type statement struct {
	kind         stmtKind
	query        string
	table        string
	columns      []wire.Column // CREATE TABLE definitions
	projection   []string      // SELECT columns; nil means *
	insertCols   []string      // INSERT column list; nil means table order
	values       []expr        // INSERT values
	sets         []setClause   // UPDATE assignments
	where        *whereClause
	limit        int
	key, value   string // SET / ATTACH / secret / extension operands
	sleepMs      int
	placeholders int
}

// parser compiles one statement from its token stream. The reference engine
// accepts the subset of SQL the driver needs plus the provisioning
// statements a connector issues after the handshake.
type parser struct {
	lexer        *Lexer
	token        Token
	placeholders int
}

func parse(query string) (*statement, error) {
	p := &parser{lexer: NewLexer(query)}
	p.advance()

	stmt, err := p.parseStatement()
	if err != nil {
		return nil, fmt.Errorf("Parser Error: %v", err)
	}
	if p.token.Type != EOF {
		return nil, fmt.Errorf("Parser Error: unexpected %s after statement", p.token)
	}
	stmt.query = query
	stmt.placeholders = p.placeholders
	return stmt, nil
}

func (p *parser) advance() {
	p.token = p.lexer.NextToken()
}

func (p *parser) expect(tt TokenType, what string) (Token, error) {
	if p.token.Type != tt {
		return Token{}, fmt.Errorf("expected %s, found %s", what, p.token)
	}
	token := p.token
	p.advance()
	return token, nil
}

func (p *parser) parseStatement() (*statement, error) {
	switch p.token.Type {
	case Select:
		return p.parseSelect()
	case Insert:
		return p.parseInsert()
	case Update:
		return p.parseUpdate()
	case Delete:
		return p.parseDelete()
	case Create:
		return p.parseCreate()
	case Drop:
		return p.parseDrop()
	case Set:
		return p.parseSet()
	case Begin, Commit, Rollback:
		// Transaction control arrives as dedicated commands, not SQL.
		return nil, fmt.Errorf("transaction control must use the %s command", toUpper(p.token.Value))
	case Identifier:
		return p.parseBareIdentifier()
	default:
		return nil, fmt.Errorf("unexpected %s at start of statement", p.token)
	}
}

func (p *parser) parseSelect() (*statement, error) {
	p.advance()
	stmt := &statement{kind: stmtSelect, limit: -1}

	if p.token.Type == Wildcard {
		p.advance()
	} else {
		for {
			col, err := p.expect(Identifier, "column name")
			if err != nil {
				return nil, err
			}
			stmt.projection = append(stmt.projection, col.Value)
			if p.token.Type != Comma {
				break
			}
			p.advance()
		}
	}

	if _, err := p.expect(From, "FROM"); err != nil {
		return nil, err
	}
	name, err := p.expect(Identifier, "table name")
	if err != nil {
		return nil, err
	}
	stmt.table = name.Value

	if p.token.Type == Where {
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.where = where
	}

	if p.token.Type == Limit {
		p.advance()
		n, err := p.expect(Int, "row count")
		if err != nil {
			return nil, err
		}
		limit, err := strconv.Atoi(n.Value)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("invalid LIMIT %q", n.Value)
		}
		stmt.limit = limit
	}

	return stmt, nil
}

func (p *parser) parseInsert() (*statement, error) {
	p.advance()
	if _, err := p.expect(Into, "INTO"); err != nil {
		return nil, err
	}
	name, err := p.expect(Identifier, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &statement{kind: stmtInsert, table: name.Value, limit: -1}

	if p.token.Type == ParenOpen {
		p.advance()
		for {
			col, err := p.expect(Identifier, "column name")
			if err != nil {
				return nil, err
			}
			stmt.insertCols = append(stmt.insertCols, col.Value)
			if p.token.Type != Comma {
				break
			}
			p.advance()
		}
		if _, err := p.expect(ParenClose, ")"); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(Values, "VALUES"); err != nil {
		return nil, err
	}
	if _, err := p.expect(ParenOpen, "("); err != nil {
		return nil, err
	}
	for {
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.values = append(stmt.values, value)
		if p.token.Type != Comma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(ParenClose, ")"); err != nil {
		return nil, err
	}

	return stmt, nil
}

func (p *parser) parseUpdate() (*statement, error) {
	p.advance()
	name, err := p.expect(Identifier, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &statement{kind: stmtUpdate, table: name.Value, limit: -1}

	if _, err := p.expect(Set, "SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.expect(Identifier, "column name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Equals, "="); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.sets = append(stmt.sets, setClause{column: col.Value, value: value})
		if p.token.Type != Comma {
			break
		}
		p.advance()
	}

	if p.token.Type == Where {
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.where = where
	}
	return stmt, nil
}

func (p *parser) parseDelete() (*statement, error) {
	p.advance()
	if _, err := p.expect(From, "FROM"); err != nil {
		return nil, err
	}
	name, err := p.expect(Identifier, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &statement{kind: stmtDelete, table: name.Value, limit: -1}

	if p.token.Type == Where {
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.where = where
	}
	return stmt, nil
}

func (p *parser) parseCreate() (*statement, error) {
	p.advance()

	if p.token.Type == Identifier && toUpper(p.token.Value) == "SECRET" {
		p.advance()
		name, err := p.expect(Identifier, "secret name")
		if err != nil {
			return nil, err
		}
		// The option list is recorded verbatim; the reference engine does
		// not interpret secret parameters.
		rest := p.consumeRest()
		return &statement{kind: stmtCreateSecret, key: name.Value, value: rest, limit: -1}, nil
	}

	if _, err := p.expect(Table, "TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expect(Identifier, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &statement{kind: stmtCreateTable, table: name.Value, limit: -1}

	if _, err := p.expect(ParenOpen, "("); err != nil {
		return nil, err
	}
	for {
		col, err := p.expect(Identifier, "column name")
		if err != nil {
			return nil, err
		}
		typeName, err := p.expect(Identifier, "column type")
		if err != nil {
			return nil, err
		}
		tag, err := typeTag(typeName.Value)
		if err != nil {
			return nil, err
		}
		stmt.columns = append(stmt.columns, wire.Column{Name: col.Value, Type: tag})
		if p.token.Type != Comma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(ParenClose, ")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseDrop() (*statement, error) {
	p.advance()

	if p.token.Type == Identifier && toUpper(p.token.Value) == "SECRET" {
		p.advance()
		name, err := p.expect(Identifier, "secret name")
		if err != nil {
			return nil, err
		}
		return &statement{kind: stmtDropSecret, key: name.Value, limit: -1}, nil
	}

	if _, err := p.expect(Table, "TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expect(Identifier, "table name")
	if err != nil {
		return nil, err
	}
	return &statement{kind: stmtDropTable, table: name.Value, limit: -1}, nil
}

func (p *parser) parseSet() (*statement, error) {
	p.advance()
	key, err := p.expect(Identifier, "setting name")
	if err != nil {
		return nil, err
	}
	if p.token.Type != Equals && p.token.Type != To {
		return nil, fmt.Errorf("expected = or TO, found %s", p.token)
	}
	p.advance()

	value := p.token
	switch value.Type {
	case String, Int, Float, Identifier, True, False:
		p.advance()
	default:
		return nil, fmt.Errorf("expected setting value, found %s", value)
	}
	return &statement{kind: stmtSet, key: key.Value, value: value.Value, limit: -1}, nil
}

// parseBareIdentifier handles the statements that start with a
// non-reserved word: provisioning (ATTACH, DETACH, INSTALL, LOAD) and the
// diagnostics statements used by the driver's tests.
func (p *parser) parseBareIdentifier() (*statement, error) {
	switch toUpper(p.token.Value) {
	case "ATTACH":
		p.advance()
		path, err := p.expect(String, "database path")
		if err != nil {
			return nil, err
		}
		stmt := &statement{kind: stmtAttach, key: path.Value, value: path.Value, limit: -1}
		if p.token.Type == Identifier && toUpper(p.token.Value) == "AS" {
			p.advance()
			name, err := p.expect(Identifier, "database alias")
			if err != nil {
				return nil, err
			}
			stmt.key = name.Value
		}
		p.consumeRest()
		return stmt, nil
	case "DETACH":
		p.advance()
		name, err := p.expect(Identifier, "database alias")
		if err != nil {
			return nil, err
		}
		return &statement{kind: stmtDetach, key: name.Value, limit: -1}, nil
	case "INSTALL":
		p.advance()
		name, err := p.expect(Identifier, "extension name")
		if err != nil {
			return nil, err
		}
		return &statement{kind: stmtInstall, key: name.Value, limit: -1}, nil
	case "LOAD":
		p.advance()
		name, err := p.expect(Identifier, "extension name")
		if err != nil {
			return nil, err
		}
		return &statement{kind: stmtLoad, key: name.Value, limit: -1}, nil
	case "SLEEP":
		p.advance()
		ms, err := p.expect(Int, "milliseconds")
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(ms.Value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid sleep duration %q", ms.Value)
		}
		return &statement{kind: stmtSleep, sleepMs: n, limit: -1}, nil
	case "CRASH":
		p.advance()
		return &statement{kind: stmtCrash, limit: -1}, nil
	case "GARBAGE":
		p.advance()
		return &statement{kind: stmtGarbage, limit: -1}, nil
	default:
		return nil, fmt.Errorf("unexpected %s at start of statement", p.token)
	}
}

func (p *parser) parseWhere() (*whereClause, error) {
	p.advance()
	col, err := p.expect(Identifier, "column name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Equals, "="); err != nil {
		return nil, err
	}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &whereClause{column: col.Value, value: value}, nil
}

// parseExpr reads one literal or placeholder.
func (p *parser) parseExpr() (expr, error) {
	token := p.token
	switch token.Type {
	case Placeholder:
		p.advance()
		e := expr{param: true, index: p.placeholders}
		p.placeholders++
		return e, nil
	case String:
		p.advance()
		return expr{value: token.Value}, nil
	case Int:
		n, err := strconv.ParseInt(token.Value, 10, 64)
		if err != nil {
			return expr{}, fmt.Errorf("invalid integer %q", token.Value)
		}
		p.advance()
		return expr{value: n}, nil
	case Float:
		f, err := strconv.ParseFloat(token.Value, 64)
		if err != nil {
			return expr{}, fmt.Errorf("invalid float %q", token.Value)
		}
		p.advance()
		return expr{value: f}, nil
	case True:
		p.advance()
		return expr{value: true}, nil
	case False:
		p.advance()
		return expr{value: false}, nil
	case Null:
		p.advance()
		return expr{value: nil}, nil
	default:
		return expr{}, fmt.Errorf("expected value, found %s", token)
	}
}

// consumeRest swallows the remainder of a statement that the reference
// engine accepts but does not interpret.
func (p *parser) consumeRest() string {
	var rest string
	for p.token.Type != EOF {
		if rest != "" {
			rest += " "
		}
		rest += p.token.Value
		p.advance()
	}
	return rest
}

// typeTag maps a SQL column type name onto the engine's type tag.
func typeTag(name string) (string, error) {
	switch toUpper(name) {
	case "INT", "INTEGER", "INT4":
		return wire.TypeInt32, nil
	case "BIGINT", "INT8", "LONG":
		return wire.TypeInt64, nil
	case "TEXT", "STRING", "VARCHAR":
		return wire.TypeUtf8, nil
	case "DOUBLE", "FLOAT", "REAL", "FLOAT8":
		return wire.TypeFloat64, nil
	case "BOOL", "BOOLEAN":
		return wire.TypeBoolean, nil
	case "BLOB", "BYTEA":
		return wire.TypeBlob, nil
	case "TIMESTAMP", "DATETIME":
		return wire.TypeTimestampMicro, nil
	default:
		return "", fmt.Errorf("unsupported column type %q", name)
	}
}
