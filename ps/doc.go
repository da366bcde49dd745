// Package ps supervises the worker process that executes queries on behalf
// of a connection.
//
// A Worker owns one child process and its three standard streams: requests
// are written to stdin, responses are read from stdout as a raw byte stream,
// and stderr is drained into the structured log. The worker's exit is
// observed by a wait goroutine and exposed as a closed channel, so a reader
// can always distinguish "no data yet" from "the process is gone".
//
// # Lifecycle
//
//	worker, err := ps.Spawn(ps.Config{Path: "/usr/local/bin/duckdb-worker"})
//	if err != nil { ... }
//	defer worker.Terminate(2 * time.Second)
//
//	worker.Write(request)
//	chunk := make([]byte, 32*1024)
//	n, err := worker.Stdout().Read(chunk)
//
// Terminate asks the process to stop with an interrupt signal and kills it
// after the grace period. Exactly one connection owns a Worker; none of its
// methods are meant for concurrent use beyond the documented Done/ExitCode
// pairing.
package ps
