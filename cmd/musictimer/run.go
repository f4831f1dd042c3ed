package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"musictimer/internal/app"
	"musictimer/internal/config"
	logx "musictimer/pkg/logx"
)

var (
	cfgPath      string
	configFormat string

	runFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the config file (json or yaml)",
			Value:       "./config.json",
			EnvVar:      "MUSICTIMER_CONFIG",
			Destination: &cfgPath,
		},
	}

	configFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "format, f",
			Usage:       "output format: yaml or json",
			Value:       "yaml",
			Destination: &configFormat,
		},
	}
)

func run(ctx *cli.Context) error {
	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The app's own logger only exists once the config is loaded.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	a, err := app.NewApp(cfgPath, app.WithVersion(version))
	if err != nil {
		boot.Error("startup failed", logx.String("config", cfgPath), logx.Err(err))
		return fmt.Errorf("start: %w", err)
	}
	if err := a.Start(sigCtx); err != nil {
		boot.Error("startup failed", logx.Err(err))
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSIGTERM
	select {
	case <-sigCtx.Done():
	case <-a.Done():
		reason = app.StopFatalError
		if sigCtx.Err() != nil {
			reason = app.StopSIGTERM
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printConfig(ctx *cli.Context) error {
	name := "config.yaml"
	if configFormat == "json" {
		name = "config.json"
	}
	d := config.Default()
	b, err := config.Encode(name, &d)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}
