// Command zexplore explores the state space of a reference model and reports the errors it finds.
//
// The exit code is the kind of result of the search: 0 success, 1 error found, 2 stack overflow,
// 3 runtime error, 4 invalid parameters, 5 accepting cycle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
