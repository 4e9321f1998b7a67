// agent is the build agent entry point. It reads the build type from its
// configuration, claims a task first when it runs in a build-less
// container, and then hands off to the runner for that mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"buildagent/internal/bootstrap"
	"buildagent/internal/claim"
	"buildagent/internal/config"
	"buildagent/internal/core"
)

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process status: errors carrying their own
// code (fatal configuration) use it, everything else exits 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

func run(args []string, getenv func(string) string) error {
	var (
		configPath   string
		buildType    string
		workspaceDir string
		pipelineFile string
		debug        bool
	)
	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to agent YAML config")
	flagSet.StringVar(&buildType, "build-type", "", "build type: DOCKER, WORKER or AGENT (overrides config)")
	flagSet.StringVar(&workspaceDir, "workspace", "", "docker workspace override")
	flagSet.StringVar(&pipelineFile, "pipeline", "", "pipeline file to run")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	// Agent flags end at the first positional argument; the rest belongs to
	// the runner.
	flagSet.SetInterspersed(false)

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	base := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger := base.With("component", "agent")

	cfg, err := config.Load(configPath, getenv)
	if err != nil {
		return &bootstrap.FatalError{Err: err}
	}
	if flagSet.Changed("build-type") {
		cfg.BuildType = buildType
	}
	if flagSet.Changed("workspace") {
		cfg.Workspace = workspaceDir
	}
	if flagSet.Changed("pipeline") {
		cfg.PipelineFile = pipelineFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := core.NewRunner(cfg.PipelineFile, base)
	d := &bootstrap.Dispatcher{
		Config:  cfg,
		Build:   runner,
		Agent:   &core.WorkRunner{Runner: runner},
		Claimer: claim.NewPoller(cfg, base.With("component", "claim")),
		Logger:  logger,
	}
	return d.Dispatch(ctx, flagSet.Args())
}
