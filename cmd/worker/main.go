package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mallarddb/mallard/internal/engine"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	cacheCap := flag.Int("cache-cap", 0, "Statement cache capacity (default 1024)")
	fetchBatch := flag.Int("fetch-batch", 0, "Maximum rows per cursor fetch (default 512)")
	verbose := flag.Bool("v", false, "Verbose logging on stderr")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mallard worker v%s\n", Version)
		return
	}

	// stdout belongs to the protocol; everything human-facing goes to
	// stderr, where the spawning driver forwards it into its own logs.
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger.Debug("Worker starting", "pid", os.Getpid())

	opts := engine.Options{
		CacheCap:   *cacheCap,
		FetchBatch: *fetchBatch,
		Logger:     logger,
	}

	if err := engine.Serve(os.Stdin, os.Stdout, opts); err != nil {
		logger.Error("Worker stream failed", "error", err)
		os.Exit(1)
	}
}
