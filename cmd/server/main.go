package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/bboard/internal/server"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration, binds the listeners and serves until a
// signal arrives or a client sends the shutdown command.
func run(args []string) error {
	// A missing .env file is fine; the environment and defaults still apply.
	_ = godotenv.Load()

	config, err := server.LoadConfig(args)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	srv := server.New(config, log)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting bulletin board server", "address", srv.Addr().String())
	if err := srv.Serve(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Some connections did not close in time")
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
