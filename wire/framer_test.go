package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func feedAll(t *testing.T, f *Framer, chunks [][]byte) [][]byte {
	var lines [][]byte
	for _, chunk := range chunks {
		got, err := f.Feed(chunk)
		if err != nil {
			t.Fatalf("Failed to feed chunk: %v", err)
		}
		lines = append(lines, got...)
	}
	return lines
}

func TestFramerSingleChunk(t *testing.T) {
	f := NewFramer(0)

	lines, err := f.Feed([]byte("{\"status\":\"ok\"}\n{\"status\":\"error\"}\n"))
	if err != nil {
		t.Fatalf("Failed to feed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if string(lines[0]) != "{\"status\":\"ok\"}" {
		t.Errorf("Unexpected first line: %q", lines[0])
	}
	if string(lines[1]) != "{\"status\":\"error\"}" {
		t.Errorf("Unexpected second line: %q", lines[1])
	}
	if f.Pending() != 0 {
		t.Errorf("Expected empty buffer, got %d pending bytes", f.Pending())
	}
}

func TestFramerPartialAcrossChunks(t *testing.T) {
	f := NewFramer(0)

	lines, err := f.Feed([]byte("{\"sta"))
	if err != nil {
		t.Fatalf("Failed to feed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("Expected no lines from partial chunk, got %d", len(lines))
	}
	if f.Pending() != 5 {
		t.Errorf("Expected 5 pending bytes, got %d", f.Pending())
	}

	lines, err = f.Feed([]byte("tus\":\"ok\"}\n"))
	if err != nil {
		t.Fatalf("Failed to feed: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != "{\"status\":\"ok\"}" {
		t.Fatalf("Expected completed line, got %q", lines)
	}
}

func TestFramerByteAtATimeMatchesContiguous(t *testing.T) {
	input := "{\"status\":\"ok\",\"rows\":[[1]]}\n\n{\"status\":\"error\",\"message\":\"no\"}\ntrailing"

	contiguous := feedAll(t, NewFramer(0), [][]byte{[]byte(input)})

	byteWise := NewFramer(0)
	var chunks [][]byte
	for i := 0; i < len(input); i++ {
		chunks = append(chunks, []byte{input[i]})
	}
	// Interleave zero-length chunks, which must be harmless.
	chunks = append(chunks, nil, []byte{})
	single := feedAll(t, byteWise, chunks)

	if len(contiguous) != len(single) {
		t.Fatalf("Expected %d lines, got %d", len(contiguous), len(single))
	}
	for i := range contiguous {
		if !bytes.Equal(contiguous[i], single[i]) {
			t.Errorf("Line %d differs: %q vs %q", i, contiguous[i], single[i])
		}
	}
	if byteWise.Pending() != len("trailing") {
		t.Errorf("Expected %d pending bytes, got %d", len("trailing"), byteWise.Pending())
	}
}

func TestFramerEmptyLines(t *testing.T) {
	f := NewFramer(0)

	lines, err := f.Feed([]byte("\n\n"))
	if err != nil {
		t.Fatalf("Failed to feed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 empty lines, got %d", len(lines))
	}
	for i, line := range lines {
		if len(line) != 0 {
			t.Errorf("Line %d should be empty, got %q", i, line)
		}
	}
}

func TestFramerOverflow(t *testing.T) {
	f := NewFramer(16)

	if _, err := f.Feed([]byte(strings.Repeat("x", 16))); err != nil {
		t.Fatalf("Buffer at the limit should not fail: %v", err)
	}

	_, err := f.Feed([]byte("y"))
	if !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("Expected ErrFrameTooLong, got %v", err)
	}
}

func TestFramerCompleteLineMayExceedPartialLimit(t *testing.T) {
	// The limit applies to buffered partial data; a chunk that already
	// contains the terminator drains before the check.
	f := NewFramer(8)

	lines, err := f.Feed([]byte("0123456789ABCDEF\nok\n"))
	if err != nil {
		t.Fatalf("Failed to feed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
}
