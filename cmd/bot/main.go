package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"eventbot/internal/app"
	"eventbot/internal/store"
)

// Exit codes. Corrupt state gets its own code so a supervisor can tell
// "operator must look at the snapshot" apart from ordinary startup failures.
const (
	exitFailure      = 1
	exitCorruptState = 3
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	// Secrets come from the environment; a .env file is optional.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: could not read .env:", err)
	}
	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		fmt.Fprintln(os.Stderr, "fatal: TELEGRAM_BOT_TOKEN is not set")
		os.Exit(exitFailure)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, token)
	if err != nil {
		if errors.Is(err, store.ErrCorruptState) {
			fmt.Fprintln(os.Stderr, "fatal: state snapshot is corrupt, refusing to start with an empty store:", err)
			fmt.Fprintln(os.Stderr, "inspect or restore the snapshot file, then restart")
			os.Exit(exitCorruptState)
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(exitFailure)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(exitFailure)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown error:", err)
		os.Exit(exitFailure)
	}
}
