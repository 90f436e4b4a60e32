package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	// Interrupting a follow or a worker is a normal exit path.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "quill:", err)
	}
	os.Exit(1)
}
