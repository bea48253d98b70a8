package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"liveapp/internal/logging"
	"liveapp/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "ecosystem.yaml", "path to the process descriptor")
	appName := flag.String("app", "", "app to supervise (default: first app in the descriptor)")
	envName := flag.String("env", os.Getenv("SUPERVISOR_ENV"), "environment set to apply on top of env, e.g. production for env_production")
	flag.Parse()

	logger := logging.Default()

	desc, err := supervisor.LoadDescriptor(*configPath)
	if err != nil {
		log.Fatalf("failed to load descriptor: %v", err)
	}
	app, ok := desc.App(*appName)
	if !ok {
		log.Fatalf("app %q not found in %s", *appName, *configPath)
	}

	sup, err := supervisor.New(app, supervisor.Options{
		Env:     *envName,
		BaseDir: desc.Dir,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to prepare supervisor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("supervisor_started", map[string]any{
		"app":         app.Name,
		"script":      app.Script,
		"env":         *envName,
		"autorestart": app.AutoRestart,
		"pid":         os.Getpid(),
	})

	err = sup.Run(ctx)
	logger.Info("supervisor_stopped", map[string]any{"app": app.Name, "starts": sup.Starts()})
	if err != nil {
		// Mirror the child's exit status when autorestart is off.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			stop()
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
