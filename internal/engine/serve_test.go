package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mallarddb/mallard/wire"
)

// runSession feeds a scripted sequence of request lines through Serve and
// returns the response lines.
func runSession(t *testing.T, opts Options, requests ...string) []string {
	t.Helper()

	input := strings.Join(requests, "\n") + "\n"
	var output bytes.Buffer
	if err := Serve(strings.NewReader(input), &output, opts); err != nil {
		t.Fatalf("Failed to serve session: %v", err)
	}

	raw := strings.TrimSuffix(output.String(), "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func TestServeSession(t *testing.T) {
	lines := runSession(t, Options{},
		`{"command":"status"}`,
		`{"command":"prepare","query":"CREATE TABLE t (name TEXT, data INT)"}`,
		`{"command":"execute","stmt":0}`,
		`{"command":"close","stmt":0}`,
		`{"command":"prepare","query":"INSERT INTO t VALUES (?, ?)"}`,
		`{"command":"execute","stmt":0,"params":["Foo",1]}`,
		`{"command":"close","stmt":0}`,
		`{"command":"prepare","query":"SELECT * FROM t"}`,
		`{"command":"execute","stmt":0}`,
		`{"command":"close","stmt":0}`,
	)
	if len(lines) != 10 {
		t.Fatalf("Expected 10 replies, got %d", len(lines))
	}

	// Every request gets exactly one reply, in order; the SELECT is the
	// ninth.
	reply, err := wire.DecodeReply([]byte(lines[8]))
	if err != nil {
		t.Fatalf("Failed to decode SELECT reply: %v", err)
	}
	result, ok := reply.(*wire.Result)
	if !ok {
		t.Fatalf("Expected result, got %T", reply)
	}
	if result.NumRows != 1 {
		t.Errorf("Expected 1 row, got %d", result.NumRows)
	}
	if result.Columns[0].Type != wire.TypeUtf8 || result.Columns[1].Type != wire.TypeInt32 {
		t.Errorf("Unexpected column types: %v", result.Columns)
	}
}

func TestServeBlankAndMalformedLines(t *testing.T) {
	lines := runSession(t, Options{},
		``,
		`this is not json`,
		`{"query":"no tag"}`,
		`{"command":"status"}`,
	)
	// The blank line is skipped; the two bad requests get failure replies.
	if len(lines) != 3 {
		t.Fatalf("Expected 3 replies, got %d", len(lines))
	}
	for _, line := range lines[:2] {
		reply, err := wire.DecodeReply([]byte(line))
		if err != nil {
			t.Fatalf("Failed to decode failure reply: %v", err)
		}
		if _, ok := reply.(*wire.Failure); !ok {
			t.Errorf("Expected failure for malformed request, got %s", line)
		}
	}
}

func TestServeGarbageDiagnostic(t *testing.T) {
	lines := runSession(t, Options{},
		`{"command":"prepare","query":"GARBAGE"}`,
		`{"command":"execute","stmt":0}`,
		`{"command":"status"}`,
	)
	if len(lines) != 3 {
		t.Fatalf("Expected 3 replies, got %d", len(lines))
	}
	if _, err := wire.DecodeReply([]byte(lines[1])); err == nil {
		t.Error("Expected the garbage reply to be unparseable")
	}
	// The session keeps going afterwards.
	reply, err := wire.DecodeReply([]byte(lines[2]))
	if err != nil {
		t.Fatalf("Failed to decode status reply: %v", err)
	}
	if _, ok := reply.(*wire.Result); !ok {
		t.Errorf("Expected status to succeed after garbage, got %s", lines[2])
	}
}
