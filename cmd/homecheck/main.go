package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"homecheck/internal/config"
	"homecheck/internal/runner"
	"homecheck/internal/verify"
)

func main() {
	fs := flag.NewFlagSet("homecheck", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	record := fs.Bool("record", false, "Keep a run directory under ./runs")
	verbose := fs.Bool("v", false, "Debug logging on stderr")
	fs.Parse(os.Args[1:])

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := flags.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := runner.Run(ctx, runner.Options{
		Config:    cfg,
		Record:    *record,
		Workspace: ".",
		Out:       os.Stdout,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("check failed", "outcome", verify.OutcomeOf(err), "error", err)
	}
	if res.RunID != "" {
		logger.Info("run recorded", "run_id", res.RunID, "dir", res.RunDir)
	}
	stop()
	os.Exit(runner.ExitCode(cfg, res.Report.Outcome, err))
}
