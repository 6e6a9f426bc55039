// sshtunnel - an SSH-based TCP port forwarding tunnel engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sshtunnel/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.Execute(ctx, os.Args[1:])
	if err == nil {
		return
	}

	var exitErr *cmd.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code != 130 {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}

	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
