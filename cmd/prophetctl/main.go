package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errSilent) {
			printError(err)
		}
		os.Exit(1)
	}
}

// errSilent marks failures that were already reported to the user.
var errSilent = errors.New("already reported")

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
}
