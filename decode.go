package mallard

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mallarddb/mallard/wire"
)

// A fieldDecoder converts one raw JSON value into a driver.Value. The raw
// value is never nil; NULL is handled before dispatch.
type fieldDecoder func(raw any) (driver.Value, error)

// fieldDecoders maps worker type tags to their decoders. Tags not listed
// here fall back to decodePassthrough, so replies carrying types this
// package has not been taught survive undamaged.
var fieldDecoders = map[string]fieldDecoder{
	wire.TypeUtf8:    decodeString,
	wire.TypeInt8:    decodeInt,
	wire.TypeInt16:   decodeInt,
	wire.TypeInt32:   decodeInt,
	wire.TypeInt64:   decodeInt,
	wire.TypeUInt8:   decodeInt,
	wire.TypeUInt16:  decodeInt,
	wire.TypeUInt32:  decodeInt,
	wire.TypeUInt64:  decodeInt,
	wire.TypeFloat32: decodeFloat,
	wire.TypeFloat64: decodeFloat,
	wire.TypeBoolean: decodeBool,
	wire.TypeBlob:    decodeBlob,
}

// decoderFor picks the decoder for a column type tag. Timestamps match on
// prefix because the tag carries the time zone variant.
func decoderFor(typeTag string) fieldDecoder {
	if d, ok := fieldDecoders[typeTag]; ok {
		return d
	}

	if strings.HasPrefix(typeTag, "Timestamp(Microsecond") {
		return decodeTimestamp
	}

	return decodePassthrough
}

// decodeRow converts one raw row into driver values, walking columns and
// fields pairwise. A row whose width differs from the column list means
// the stream no longer matches its own header, which is unrecoverable for
// this result.
func decodeRow(cols []wire.Column, raw []any) ([]driver.Value, error) {
	if len(raw) != len(cols) {
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("row has %d values but reply declared %d columns", len(raw), len(cols)),
		}
	}

	dest := make([]driver.Value, len(raw))

	for i, field := range raw {
		if field == nil {
			dest[i] = nil
			continue
		}

		value, err := decoderFor(cols[i].Type)(field)
		if err != nil {
			return nil, &ProtocolError{
				Reason: fmt.Sprintf("column %q (%s): %v", cols[i].Name, cols[i].Type, err),
			}
		}

		dest[i] = value
	}

	return dest, nil
}

func decodeString(raw any) (driver.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", raw)
	}

	return s, nil
}

func decodeInt(raw any) (driver.Value, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return nil, fmt.Errorf("expected number, got %T", raw)
	}

	v, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q: %w", n.String(), err)
	}

	return v, nil
}

func decodeFloat(raw any) (driver.Value, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return nil, fmt.Errorf("expected number, got %T", raw)
	}

	v, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid float %q: %w", n.String(), err)
	}

	return v, nil
}

func decodeBool(raw any) (driver.Value, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, fmt.Errorf("expected bool, got %T", raw)
	}

	return b, nil
}

func decodeBlob(raw any) (driver.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected base64 string, got %T", raw)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 blob: %w", err)
	}

	return data, nil
}

// decodeTimestamp converts a microsecond count since the Unix epoch into a
// UTC time.Time. The count arrives as a JSON integer and converts exactly,
// with no float rounding on the way.
func decodeTimestamp(raw any) (driver.Value, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return nil, fmt.Errorf("expected microsecond count, got %T", raw)
	}

	micros, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("invalid microsecond count %q: %w", n.String(), err)
	}

	return time.UnixMicro(micros).UTC(), nil
}

// decodePassthrough keeps values of unknown column types as close to the
// wire form as driver.Value allows. Numbers keep their exact decimal text.
func decodePassthrough(raw any) (driver.Value, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.String(), nil
	case string:
		return v, nil
	case bool:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
