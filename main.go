// Package main is the entry point for the redtrace service.
package main

import (
	"context"
	"fmt"
	"os"

	"redtrace/bootstrap"
	"redtrace/cmd"
)

// run initializes and starts the service
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func main() {
	// "init" runs first-time setup instead of the server
	if len(os.Args) > 1 && os.Args[1] == "init" {
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
		initCmd := cmd.NewInitCmd()
		if err := initCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
