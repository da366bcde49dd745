package engine

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/mallarddb/mallard/wire"
)

// Serve runs one protocol session: requests are read line by line from r,
// answered in order on w. It returns nil when r reaches EOF, which is the
// graceful shutdown path (the driver closes the worker's stdin before
// signalling it).
func Serve(r io.Reader, w io.Writer, opts Options) error {
	e := New(opts)
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var out []byte
		cmd, err := wire.DecodeCommand([]byte(line))
		if err != nil {
			out = wire.EncodeReply(&wire.Failure{Message: err.Error()})
		} else {
			reply := e.Handle(cmd)
			if e.garbage {
				// Diagnostics hook: emit a deliberately unparseable line.
				e.garbage = false
				out = []byte("*** scrambled reply ***\n")
			} else {
				out = wire.EncodeReply(reply)
			}
		}

		if _, err := w.Write(out); err != nil {
			return err
		}
	}
}
