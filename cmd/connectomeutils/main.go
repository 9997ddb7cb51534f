// Package main is the connectomeutils command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"connectomeutils/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, &state{}, os.Args)
	stop()
	os.Exit(code)
}

// run executes the app and returns the process exit code. Errors are reported through
// the logger, which is created here when the app failed before building its own.
func run(ctx context.Context, s *state, args []string) int {
	err := newApp(s).RunContext(ctx, args)
	if err == nil {
		return 0
	}
	if s.logger == nil {
		logger, lerr := logging.NewLogger("connectomeutils", false)
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		s.logger = logger
	}
	s.logger.Errorw("command failed", "error", err)
	_ = s.logger.Sync()
	return 1
}
