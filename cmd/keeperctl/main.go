// Keeperctl is the command-line client for a running keeperd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"telecom-keeper/internal/ctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctl.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
