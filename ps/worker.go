package ps

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle state of a supervised worker process.
type State int

const (
	// StateStarting means the process has not finished spawning yet.
	StateStarting State = iota
	// StateRunning means the process is alive and its streams are wired.
	StateRunning
	// StateStopping means Terminate has been called and the grace period
	// is running.
	StateStopping
	// StateStopped means the process exited after a requested stop.
	StateStopped
	// StateFailed means the process exited on its own or was killed.
	StateFailed
)

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// SpawnError reports that the worker executable could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cannot spawn worker %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Config describes the worker process to spawn.
type Config struct {
	// Path is the worker executable.
	Path string
	// Args are passed to the executable verbatim.
	Args []string
	// Env entries are appended to the parent environment.
	Env []string
	// Logger receives stderr output and lifecycle events. nil discards.
	Logger *slog.Logger
}

// Worker is one supervised child process. The owning connection writes
// requests to it and reads the response byte stream; the supervisor's wait
// goroutine records the exit and closes Done.
type Worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	log    *slog.Logger
	done   chan struct{}

	mu       sync.Mutex
	state    State
	exitErr  error
	exitCode int
}

// Spawn starts the worker process and wires its streams. The returned Worker
// is running; a failure at any step reports a *SpawnError.
func Spawn(cfg Config) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: cfg.Path, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Path: cfg.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &SpawnError{Path: cfg.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: cfg.Path, Err: err}
	}

	w := &Worker{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		log:      logger.With("component", "worker", "pid", cmd.Process.Pid),
		done:     make(chan struct{}),
		state:    StateRunning,
		exitCode: -1,
	}
	w.log.Debug("Worker process started", "path", cfg.Path)

	go w.drainStderr(stderr)
	go w.wait()

	return w, nil
}

// drainStderr forwards the worker's stderr lines to the log.
func (w *Worker) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.log.Warn("Worker stderr", "line", scanner.Text())
	}
}

// wait blocks until the process exits, records the outcome and closes Done.
func (w *Worker) wait() {
	err := w.cmd.Wait()

	w.mu.Lock()
	w.exitErr = err
	w.exitCode = w.cmd.ProcessState.ExitCode()
	if w.state == StateStopping {
		w.state = StateStopped
	} else {
		w.state = StateFailed
	}
	state := w.state
	w.mu.Unlock()

	if state == StateFailed {
		w.log.Warn("Worker process exited", "code", w.exitCode, "error", err)
	} else {
		w.log.Debug("Worker process stopped", "code", w.exitCode)
	}
	close(w.done)
}

// Write sends bytes to the worker's standard input. A write against an
// exited worker fails with the pipe error.
func (w *Worker) Write(p []byte) (int, error) {
	return w.stdin.Write(p)
}

// Stdout returns the worker's standard output stream. Reads return io.EOF
// once the process has exited and the pipe has drained.
func (w *Worker) Stdout() io.Reader {
	return w.stdout
}

// Done returns a channel that is closed when the process has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// ExitCode returns the process exit code, or -1 if it has not exited or was
// killed by a signal. Meaningful after Done is closed.
func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

// ExitErr returns the error recorded by the wait goroutine, if any.
func (w *Worker) ExitErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitErr
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// PID returns the worker's process id.
func (w *Worker) PID() int {
	return w.cmd.Process.Pid
}

// Terminate stops the worker: it closes stdin so a well-behaved worker can
// exit on its own, sends an interrupt, and kills the process if it is still
// running after the grace period. Terminate returns once the process has
// exited. It is safe to call after the process has already exited.
func (w *Worker) Terminate(grace time.Duration) error {
	w.mu.Lock()
	if w.state == StateRunning {
		w.state = StateStopping
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	default:
	}

	w.stdin.Close()
	if err := w.cmd.Process.Signal(os.Interrupt); err != nil {
		w.log.Debug("Interrupt failed, process may already be gone", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		w.log.Warn("Worker did not exit within grace period, killing", "grace", grace)
		if err := w.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill worker: %w", err)
		}
		<-w.done
		return nil
	}
}
