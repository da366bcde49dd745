package engine

type TokenType int

const (
	Identifier TokenType = iota
	String
	Int
	Float
	Placeholder
	Wildcard
	Comma
	ParenOpen
	ParenClose
	Equals
	Select
	From
	Where
	Limit
	Create
	Drop
	Table
	Insert
	Into
	Values
	Delete
	Update
	Set
	To
	Begin
	Commit
	Rollback
	Null
	True
	False
	EOF
	Unknown
)

type Token struct {
	Type  TokenType
	Value string
}

func (token Token) String() string {
	switch token.Type {
	case Identifier:
		return "Identifier(" + token.Value + ")"
	case String:
		return "String(" + token.Value + ")"
	case Int:
		return "Int(" + token.Value + ")"
	case Float:
		return "Float(" + token.Value + ")"
	case Placeholder:
		return "Placeholder"
	case EOF:
		return "EOF"
	default:
		return token.Value
	}
}

// Lexer splits a statement into tokens. Identifiers and keywords are matched
// case-insensitively; string literals use single quotes with '' escaping.
type Lexer struct {
	sql          string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(sql string) *Lexer {
	lexer := &Lexer{sql: sql}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.sql) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.sql[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) NextToken() Token {
	var token Token

	lexer.skipWhitespace()

	switch lexer.ch {
	case ',':
		token = Token{Type: Comma, Value: string(lexer.ch)}
	case '(':
		token = Token{Type: ParenOpen, Value: string(lexer.ch)}
	case ')':
		token = Token{Type: ParenClose, Value: string(lexer.ch)}
	case '=':
		token = Token{Type: Equals, Value: string(lexer.ch)}
	case '*':
		token = Token{Type: Wildcard, Value: string(lexer.ch)}
	case '?':
		token = Token{Type: Placeholder, Value: string(lexer.ch)}
	case ';':
		lexer.readChar()
		return lexer.NextToken()
	case 0:
		token = Token{Type: EOF, Value: ""}
	case '\'':
		token = Token{Type: String, Value: lexer.readString()}
	default:
		if isDigit(lexer.ch) || lexer.ch == '-' {
			num := lexer.readNumber()
			if lexer.ch == '.' {
				lexer.readChar()
				decimal := lexer.readNumber()
				return Token{Type: Float, Value: num + "." + decimal}
			}
			return Token{Type: Int, Value: num}
		}
		if isAlphaNumeric(lexer.ch) {
			literal := lexer.readIdentifier()
			return Token{Type: lookupIdentifier(literal), Value: literal}
		}
		token = Token{Type: Unknown, Value: string(lexer.ch)}
	}

	lexer.readChar()
	return token
}

func (lexer *Lexer) skipWhitespace() {
	for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
		lexer.readChar()
	}
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for isAlphaNumeric(lexer.ch) {
		lexer.readChar()
	}
	return lexer.sql[position:lexer.position]
}

func (lexer *Lexer) readString() string {
	lexer.readChar() // skip opening quote
	var str []byte
	for {
		if lexer.ch == 0 {
			break
		}
		if lexer.ch == '\'' {
			// '' escapes a quote inside the literal
			if lexer.readPosition < len(lexer.sql) && lexer.sql[lexer.readPosition] == '\'' {
				str = append(str, '\'')
				lexer.readChar()
				lexer.readChar()
				continue
			}
			break
		}
		str = append(str, lexer.ch)
		lexer.readChar()
	}
	return string(str)
}

func (lexer *Lexer) readNumber() string {
	position := lexer.position
	if lexer.ch == '-' {
		lexer.readChar()
	}
	for isDigit(lexer.ch) {
		lexer.readChar()
	}
	return lexer.sql[position:lexer.position]
}

func isAlphaNumeric(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || isDigit(ch)
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func lookupIdentifier(id string) TokenType {
	switch toUpper(id) {
	case "SELECT":
		return Select
	case "FROM":
		return From
	case "WHERE":
		return Where
	case "LIMIT":
		return Limit
	case "CREATE":
		return Create
	case "DROP":
		return Drop
	case "TABLE":
		return Table
	case "INSERT":
		return Insert
	case "INTO":
		return Into
	case "VALUES":
		return Values
	case "DELETE":
		return Delete
	case "UPDATE":
		return Update
	case "SET":
		return Set
	case "TO":
		return To
	case "BEGIN":
		return Begin
	case "COMMIT":
		return Commit
	case "ROLLBACK":
		return Rollback
	case "NULL":
		return Null
	case "TRUE":
		return True
	case "FALSE":
		return False
	default:
		return Identifier
	}
}

func toUpper(s string) string {
	b := []byte(s)
	for i, ch := range b {
		if 'a' <= ch && ch <= 'z' {
			b[i] = ch - 'a' + 'A'
		}
	}
	return string(b)
}
