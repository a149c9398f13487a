package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"homecheck/internal/config"
	"homecheck/internal/lab"
	"homecheck/internal/runner"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "list":
		listCmd()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("lab usage:")
	fmt.Println("  lab run   [--url <url>] [--engine playwright|rod] [--timeout 5s] [--config <file>]")
	fmt.Println("  lab serve [--port 8787] [--allow-host host:port]... [--config <file>]")
	fmt.Println("  lab list  # list run ids")
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	fs.Parse(args)

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := runner.Run(ctx, runner.Options{
		Config:    cfg,
		Record:    true,
		Workspace: ".",
		Out:       os.Stderr,
	})
	if res.RunID == "" && err != nil {
		log.Fatalf("run failed: %v", err)
	}
	b, _ := json.MarshalIndent(res.Manifest, "", "  ")
	fmt.Println(string(b))
	if err != nil {
		log.Printf("run %s failed: %v", res.RunID, err)
	}
	stop()
	os.Exit(runner.ExitCode(cfg, res.Report.Outcome, err))
}

func listCmd() {
	runs, err := runner.FindRuns(".")
	if err != nil {
		log.Fatal(err)
	}
	for _, id := range runs {
		fmt.Println(id)
	}
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	port := fs.Int("port", 8787, "Port to listen on")
	var allowHosts hostList
	fs.Var(&allowHosts, "allow-host", "Extra host[:port] POSTed runs may target (repeatable)")
	fs.Parse(args)

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := lab.NewServer(".", cfg, lab.WithLogger(logger), lab.WithAllowedHosts(allowHosts...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := s.ListenAndServe(ctx, fmt.Sprintf(":%d", *port)); err != nil {
		log.Fatal(err)
	}
}

type hostList []string

func (h *hostList) String() string { return strings.Join(*h, ",") }

func (h *hostList) Set(v string) error {
	*h = append(*h, v)
	return nil
}
