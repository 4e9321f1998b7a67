// Package bootstrap selects the agent execution mode and hands off to the
// matching runner.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"buildagent/internal/claim"
	"buildagent/internal/config"
	"buildagent/internal/workspace"
)

// BuildRunner runs builds in docker and worker mode. It calls the resolver
// once it knows the pipeline it is about to build.
type BuildRunner interface {
	Run(ctx context.Context, id config.Identity, resolver workspace.Resolver) error
}

// AgentRunner is the entry point for agent mode.
type AgentRunner interface {
	Execute(ctx context.Context, id config.Identity, args []string) error
}

// Claimer obtains a task claim from the local broker.
type Claimer interface {
	Poll(ctx context.Context) (claim.Result, error)
}

// Dispatcher routes the process to the runner for the configured mode.
type Dispatcher struct {
	Config  *config.Config
	Build   BuildRunner
	Agent   AgentRunner
	Claimer Claimer
	Logger  *slog.Logger
}

// ParseBuildMode validates a configured build type.
func ParseBuildMode(s string) (config.BuildMode, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyBuildType
	}
	switch m := config.BuildMode(s); m {
	case config.Docker, config.Worker, config.Agent:
		return m, nil
	}
	return "", &UnknownBuildTypeError{Value: s}
}

// Dispatch runs the agent for the configured mode. It only returns once the
// runner has finished, or with a FatalError when the configuration is
// unusable.
func (d *Dispatcher) Dispatch(ctx context.Context, args []string) error {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	mode, err := ParseBuildMode(d.Config.BuildType)
	if err != nil {
		return fatal(err)
	}

	id := d.Config.Identity()
	id.BuildMode = mode
	log = log.With("build_type", string(mode))
	layout := workspace.Layout{Root: d.Config.AgentHome}

	switch mode {
	case config.Docker:
		if d.Config.BuildLess() {
			res, err := d.Claimer.Poll(ctx)
			if err != nil {
				return fmt.Errorf("waiting for build-less task: %w", err)
			}
			res.Apply(&id)
			log.Info("claimed build-less task", "agent_id", id.AgentID, "project_id", id.ProjectID)
		}
		return d.Build.Run(ctx, id, fatalResolver{workspace.DockerStrategy{
			Override: d.Config.Workspace,
			Layout:   layout,
		}})
	case config.Worker:
		return d.Build.Run(ctx, id, fatalResolver{workspace.WorkerStrategy{Layout: layout}})
	default:
		return d.Agent.Execute(ctx, id, args)
	}
}

// fatalResolver marks every resolution failure fatal so a runner that wraps
// it cannot turn it into a retry.
type fatalResolver struct {
	workspace.Resolver
}

func (r fatalResolver) Resolve(pipelineID string, variables map[string]string) (workspace.Descriptor, error) {
	d, err := r.Resolver.Resolve(pipelineID, variables)
	if err != nil {
		return workspace.Descriptor{}, fatal(err)
	}
	return d, nil
}
