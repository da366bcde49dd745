package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Reply is the decoded worker response: either a *Result or a *Failure.
// The two shapes are closed; a line that matches neither is a DecodeError.
type Reply interface {
	reply()
}

// Result carries a successful response: column descriptors, raw row values
// and the row count reported by the worker. Numeric values are decoded as
// json.Number so integer precision survives until type coercion.
type Result struct {
	Columns []Column
	Rows    [][]any
	NumRows int64
}

func (*Result) reply() {}

// Failure carries the worker's error message for a failed command.
type Failure struct {
	Message string
}

func (*Failure) reply() {}

// Column describes one result column: its name and the engine's declared
// type string. Names are positional and need not be unique.
type Column struct {
	Name string
	Type string
}

// MarshalJSON encodes the column as a [name, type] pair.
func (c Column) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Name, c.Type})
}

// UnmarshalJSON decodes a [name, type] pair.
func (c *Column) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("column descriptor has %d elements, want 2", len(pair))
	}
	c.Name, c.Type = pair[0], pair[1]
	return nil
}

// DecodeError reports a response line that could not be parsed into a Reply.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "malformed worker reply: " + e.Reason
}

type envelope struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
	NumRows int64    `json:"num_rows"`
}

// EncodeReply serializes a Reply to JSON with a trailing newline. It is the
// worker side of the codec; replies are built from marshalable values only,
// so a marshal failure panics.
func EncodeReply(r Reply) []byte {
	var env any
	switch r := r.(type) {
	case *Result:
		cols := r.Columns
		if cols == nil {
			cols = []Column{}
		}
		rows := r.Rows
		if rows == nil {
			rows = [][]any{}
		}
		env = struct {
			Status  string   `json:"status"`
			Columns []Column `json:"columns"`
			Rows    [][]any  `json:"rows"`
			NumRows int64    `json:"num_rows"`
		}{"ok", cols, rows, r.NumRows}
	case *Failure:
		env = struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}{"error", r.Message}
	default:
		panic(fmt.Sprintf("wire: cannot encode reply of type %T", r))
	}

	data, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("wire: cannot encode reply: %v", err))
	}
	return append(data, '\n')
}

// DecodeReply parses one response line (without its terminator) into a
// Reply. Parse failures and unrecognized status values return a *DecodeError;
// the connection's read stream is still aligned because the framer already
// consumed the full line.
func DecodeReply(line []byte) (Reply, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	switch env.Status {
	case "ok":
		return &Result{Columns: env.Columns, Rows: env.Rows, NumRows: env.NumRows}, nil
	case "error":
		return &Failure{Message: env.Message}, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown status %q", env.Status)}
	}
}

// RefID extracts the identifier a prepare or declare reply carries as the
// single value of its single row. ok is false when the worker answered with
// a JSON null, which means its cache had no free slot. Any other shape is a
// protocol mismatch.
func (r *Result) RefID() (id uint32, ok bool, err error) {
	if len(r.Rows) != 1 || len(r.Rows[0]) != 1 {
		return 0, false, fmt.Errorf("ref reply has %d rows, want exactly one single-value row", len(r.Rows))
	}
	switch v := r.Rows[0][0].(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		n, perr := strconv.ParseUint(v.String(), 10, 32)
		if perr != nil {
			return 0, false, fmt.Errorf("ref reply id %q is not a uint32", v.String())
		}
		return uint32(n), true, nil
	default:
		return 0, false, fmt.Errorf("ref reply id has type %T, want number or null", v)
	}
}
