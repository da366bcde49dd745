package mallard

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mallarddb/mallard/wire"
)

func TestDecodeRowKnownTypes(t *testing.T) {
	cols := []wire.Column{
		{Name: "name", Type: wire.TypeUtf8},
		{Name: "data", Type: wire.TypeInt32},
		{Name: "score", Type: wire.TypeFloat64},
		{Name: "active", Type: wire.TypeBoolean},
		{Name: "payload", Type: wire.TypeBlob},
		{Name: "at", Type: wire.TypeTimestampMicro},
	}

	raw := []any{
		"Foo",
		json.Number("1"),
		json.Number("2.5"),
		true,
		"AQID",
		json.Number("1755617712345678"),
	}

	values, err := decodeRow(cols, raw)
	if err != nil {
		t.Fatalf("Failed to decode row: %v", err)
	}

	if values[0] != "Foo" {
		t.Errorf("Expected Foo, got %v", values[0])
	}

	if values[1] != int64(1) {
		t.Errorf("Expected int64 1, got %v (%T)", values[1], values[1])
	}

	if values[2] != 2.5 {
		t.Errorf("Expected 2.5, got %v", values[2])
	}

	if values[3] != true {
		t.Errorf("Expected true, got %v", values[3])
	}

	payload, ok := values[4].([]byte)
	if !ok || string(payload) != "\x01\x02\x03" {
		t.Errorf("Expected blob bytes 010203, got %v", values[4])
	}

	at, ok := values[5].(time.Time)
	if !ok {
		t.Fatalf("Expected time.Time, got %T", values[5])
	}

	if expected := time.UnixMicro(1755617712345678).UTC(); !at.Equal(expected) {
		t.Errorf("Expected %s, got %s", expected, at)
	}
}

func TestDecodeRowNull(t *testing.T) {
	cols := []wire.Column{{Name: "name", Type: wire.TypeUtf8}}

	values, err := decodeRow(cols, []any{nil})
	if err != nil {
		t.Fatalf("Failed to decode row: %v", err)
	}

	if values[0] != nil {
		t.Errorf("Expected nil, got %v", values[0])
	}
}

func TestDecodeRowWidthMismatch(t *testing.T) {
	cols := []wire.Column{
		{Name: "a", Type: wire.TypeInt32},
		{Name: "b", Type: wire.TypeInt32},
	}

	_, err := decodeRow(cols, []any{json.Number("1")})

	var protocol *ProtocolError
	if !errors.As(err, &protocol) {
		t.Fatalf("Expected a protocol error, got %v", err)
	}
}

func TestDecodeRowUnknownTypePassthrough(t *testing.T) {
	cols := []wire.Column{
		{Name: "price", Type: "Decimal(18,3)"},
		{Name: "flag", Type: "SomeFutureType"},
	}

	values, err := decodeRow(cols, []any{json.Number("12.345"), true})
	if err != nil {
		t.Fatalf("Failed to decode row: %v", err)
	}

	// Unknown numerics keep their exact decimal text.
	if values[0] != "12.345" {
		t.Errorf("Expected 12.345, got %v (%T)", values[0], values[0])
	}

	if values[1] != true {
		t.Errorf("Expected true, got %v", values[1])
	}
}

func TestDecodeRowBadValues(t *testing.T) {
	tests := []struct {
		name string
		col  wire.Column
		raw  any
	}{
		{"string for int", wire.Column{Name: "n", Type: wire.TypeInt32}, "nope"},
		{"fraction for int", wire.Column{Name: "n", Type: wire.TypeInt64}, json.Number("1.5")},
		{"number for text", wire.Column{Name: "s", Type: wire.TypeUtf8}, json.Number("1")},
		{"bad base64", wire.Column{Name: "b", Type: wire.TypeBlob}, "!!!"},
		{"string for timestamp", wire.Column{Name: "t", Type: wire.TypeTimestampMicro}, "2024-01-01"},
	}

	for _, test := range tests {
		_, err := decodeRow([]wire.Column{test.col}, []any{test.raw})

		var protocol *ProtocolError
		if !errors.As(err, &protocol) {
			t.Errorf("%s: expected a protocol error, got %v", test.name, err)
		}
	}
}

func TestDecodeTimestampExtremes(t *testing.T) {
	cols := []wire.Column{{Name: "at", Type: "Timestamp(Microsecond, None)"}}

	// Far future values exceed float64's integer range; the decoder must
	// not lose the low digits.
	values, err := decodeRow(cols, []any{json.Number("253402300799999999")})
	if err != nil {
		t.Fatalf("Failed to decode row: %v", err)
	}

	expected := time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)
	if at := values[0].(time.Time); !at.Equal(expected) {
		t.Errorf("Expected %s, got %s", expected, at)
	}

	values, err = decodeRow(cols, []any{json.Number("-62135596800000000")})
	if err != nil {
		t.Fatalf("Failed to decode negative timestamp: %v", err)
	}

	if at := values[0].(time.Time); at.Year() != 1 {
		t.Errorf("Expected year 1, got %s", at)
	}
}

func TestDecodeTimestampZoneVariants(t *testing.T) {
	cols := []wire.Column{{Name: "at", Type: `Timestamp(Microsecond, Some("UTC"))`}}

	values, err := decodeRow(cols, []any{json.Number("0")})
	if err != nil {
		t.Fatalf("Failed to decode row: %v", err)
	}

	if _, ok := values[0].(time.Time); !ok {
		t.Errorf("Expected zoned timestamp tag to decode as time.Time, got %T", values[0])
	}
}
