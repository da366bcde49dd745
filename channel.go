package mallard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mallarddb/mallard/wire"
)

// replyEvent is one decoded line from the worker, or the error that ended
// the stream.
type replyEvent struct {
	reply wire.Reply
	err   error
}

// channel pairs commands with replies over the worker's stdio. The wire
// protocol has no request ids, so ordering is the whole correlation
// scheme: at most one command may be in flight, and the next reply line
// belongs to it.
//
// All methods must be called from a single goroutine; database/sql
// serializes operations per connection, which is exactly that guarantee.
type channel struct {
	stdin io.Writer
	done  <-chan struct{}
	exit  func() int
	log   *slog.Logger

	events chan replyEvent
	quit   chan struct{}
	stop   sync.Once

	// awaiting marks a command whose reply has not been consumed. It
	// stays set after a timeout, so the connection refuses further
	// commands instead of pairing them with stale replies.
	awaiting bool

	// dead holds the transport error that ended the channel, if any.
	dead error
}

func newChannel(stdin io.Writer, stdout io.Reader, done <-chan struct{}, exit func() int, maxLine int, log *slog.Logger) *channel {
	c := &channel{
		stdin:  stdin,
		done:   done,
		exit:   exit,
		log:    log,
		events: make(chan replyEvent, 1),
		quit:   make(chan struct{}),
	}

	go c.readLoop(stdout, maxLine)

	return c
}

// readLoop moves reply lines from the worker's stdout into the events
// channel. It exits when the stream ends or the channel is destroyed. The
// event buffer holds one reply; with one command in flight that is the
// most a healthy worker produces, and a worker that floods the stream
// just blocks here until the connection is torn down.
func (c *channel) readLoop(stdout io.Reader, maxLine int) {
	framer := wire.NewFramer(maxLine)
	buf := make([]byte, 32*1024)

	for {
		n, readErr := stdout.Read(buf)

		if n > 0 {
			lines, err := framer.Feed(buf[:n])

			for _, line := range lines {
				reply, decodeErr := wire.DecodeReply(line)

				select {
				case c.events <- replyEvent{reply: reply, err: decodeErr}:
				case <-c.quit:
					return
				}
			}

			if err != nil {
				select {
				case c.events <- replyEvent{err: err}:
				case <-c.quit:
				}

				return
			}
		}

		if readErr != nil {
			// Stream closed. Worker exit is reported through done,
			// which carries the exit code; nothing to add here.
			return
		}
	}
}

// call writes one command and blocks for its reply. On timeout or context
// cancellation the connection is left awaiting the stale reply and every
// later call fails with ErrBusy; the caller must discard the connection.
func (c *channel) call(ctx context.Context, cmd wire.Command, timeout time.Duration) (wire.Reply, error) {
	if c.dead != nil {
		return nil, c.dead
	}

	if c.awaiting {
		return nil, ErrBusy
	}

	start := time.Now()

	if _, err := c.stdin.Write(wire.EncodeCommand(cmd)); err != nil {
		c.dead = &TransportError{Command: cmd.Name, Elapsed: time.Since(start), Err: err}
		return nil, c.dead
	}

	c.awaiting = true

	var expire <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case ev := <-c.events:
		return c.consume(cmd, start, ev)
	case <-expire:
		c.log.Warn("Command timed out, connection tainted", "command", cmd.Name, "timeout", timeout)
		return nil, &TimeoutError{Command: cmd.Name, Elapsed: time.Since(start)}
	case <-ctx.Done():
		c.log.Warn("Command canceled, connection tainted", "command", cmd.Name)
		return nil, &TimeoutError{Command: cmd.Name, Elapsed: time.Since(start), Err: ctx.Err()}
	case <-c.done:
		// The worker may have replied just before exiting. Prefer the
		// reply; the dead process surfaces on the next call.
		select {
		case ev := <-c.events:
			return c.consume(cmd, start, ev)
		default:
		}

		c.dead = &TransportError{
			Command: cmd.Name,
			Elapsed: time.Since(start),
			Err:     &workerExitError{code: c.exit()},
		}
		c.awaiting = false

		return nil, c.dead
	}
}

// consume resolves a pending command with the event the reader produced.
// A decode failure means the stream can no longer be trusted to stay
// aligned with the command flow, so it kills the channel.
func (c *channel) consume(cmd wire.Command, start time.Time, ev replyEvent) (wire.Reply, error) {
	c.awaiting = false

	if ev.err != nil {
		c.dead = &TransportError{Command: cmd.Name, Elapsed: time.Since(start), Err: ev.err}
		return nil, c.dead
	}

	return ev.reply, nil
}

// destroy stops the reader and releases any reply it is holding. Safe to
// call more than once.
func (c *channel) destroy() {
	c.stop.Do(func() {
		close(c.quit)
	})
}

// healthy reports whether the channel can accept a command: the worker is
// running, no transport fault has occurred, and no stale reply is pending.
func (c *channel) healthy() bool {
	if c.dead != nil || c.awaiting {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// workerExitError reports the exit status of a worker that died with a
// command outstanding.
type workerExitError struct {
	code int
}

func (e *workerExitError) Error() string {
	if e.code < 0 {
		return "worker exited before replying"
	}

	return fmt.Sprintf("worker exited with code %d", e.code)
}
