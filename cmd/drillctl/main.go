// Command drillctl imports drill spreadsheets and inspects import history
// from the command line, against the same store the server uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	loadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadDotEnv reads an optional .env from the working directory. Its values
// override the environment, as in the server.
func loadDotEnv() {
	_ = godotenv.Overload()
}
