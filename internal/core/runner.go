package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"buildagent/internal/config"
	"buildagent/internal/storage"
	"buildagent/internal/workspace"
)

// DefaultStepTimeout bounds a single step.
const DefaultStepTimeout = 30 * time.Minute

// Runner ties together the parser, scheduler, executor and log storage.
type Runner struct {
	PipelineFile string
	Scheduler    *Scheduler
	Executor     *Executor
	StepTimeout  time.Duration
	Logger       *slog.Logger
}

func NewRunner(pipelineFile string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		PipelineFile: pipelineFile,
		Scheduler:    NewScheduler(),
		Executor:     NewExecutor(),
		StepTimeout:  DefaultStepTimeout,
		Logger:       logger.With("component", "runner"),
	}
}

// Run loads the pipeline, resolves its workspace and executes it.
func (r *Runner) Run(ctx context.Context, id config.Identity, resolver workspace.Resolver) error {
	pipeline, err := LoadPipeline(r.PipelineFile)
	if err != nil {
		return err
	}

	desc, err := resolver.Resolve(pipeline.PipelineID, pipeline.Variables)
	if err != nil {
		return fmt.Errorf("resolving workspace for %s: %w", pipeline.PipelineID, err)
	}
	return r.RunPipeline(ctx, id, pipeline, desc)
}

// RunPipeline executes all stages sequentially and stops at the first
// failing step. Step logs and their checksums end up in desc.LogDir.
func (r *Runner) RunPipeline(ctx context.Context, id config.Identity, pipeline *Pipeline, desc workspace.Descriptor) error {
	log := r.Logger.With("pipeline_id", pipeline.PipelineID, "agent_id", id.AgentID, "build_type", string(id.BuildMode))
	log.Info("starting pipeline", "workspace", desc.WorkspaceDir, "log_dir", desc.LogDir)

	logs := storage.NewLogStorage(desc.LogDir)
	vars := buildVariables(id, pipeline, desc)

	defer func() {
		if _, err := logs.WriteManifest(); err != nil {
			log.Warn("cannot write log manifest", "error", err)
		}
	}()

	for i, stage := range pipeline.Stages {
		log.Info("stage", "index", i+1, "name", stage.Name)

		for _, step := range r.Scheduler.GetNextSteps(pipeline, i) {
			if err := ctx.Err(); err != nil {
				return err
			}

			output, err := r.Executor.RunStep(ctx, step, desc.WorkspaceDir, vars, r.timeout())

			logPath, logErr := logs.SaveLog(stage.Name, step.Label(), output)
			if logErr != nil {
				log.Warn("failed to save step log", "step", step.Label(), "error", logErr)
			} else {
				log.Debug("step log saved", "path", logPath)
			}

			if err != nil {
				log.Error("step failed", "stage", stage.Name, "step", step.Label(), "error", err)
				return fmt.Errorf("stage %s step %s: %w", stage.Name, step.Label(), err)
			}
			log.Info("step completed", "stage", stage.Name, "step", step.Label())
		}
	}

	log.Info("pipeline finished")
	return nil
}

func (r *Runner) timeout() time.Duration {
	if r.StepTimeout <= 0 {
		return DefaultStepTimeout
	}
	return r.StepTimeout
}

// buildVariables exposes the identity and directories to steps. Pipeline
// variables cannot override the agent-provided ones.
func buildVariables(id config.Identity, pipeline *Pipeline, desc workspace.Descriptor) map[string]string {
	vars := make(map[string]string, len(pipeline.Variables)+6)
	for k, v := range pipeline.Variables {
		vars[k] = v
	}
	vars["DEVOPS_PIPELINE_ID"] = pipeline.PipelineID
	vars["DEVOPS_PROJECT_ID"] = id.ProjectID
	vars["DEVOPS_AGENT_ID"] = id.AgentID
	vars["DEVOPS_BUILD_TYPE"] = string(id.BuildMode)
	vars["WORKSPACE"] = desc.WorkspaceDir
	vars["DEVOPS_LOG_DIR"] = desc.LogDir
	return vars
}

// WorkRunner is the agent-mode entry point: it runs a pipeline file in a
// workspace below the current directory.
type WorkRunner struct {
	Runner *Runner
	Dir    string
}

// Execute runs the pipeline named by args[0], or the runner's configured
// file when no argument is given.
func (w *WorkRunner) Execute(ctx context.Context, id config.Identity, args []string) error {
	path := w.Runner.PipelineFile
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}

	pipeline, err := LoadPipeline(path)
	if err != nil {
		return err
	}

	dir := w.Dir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}
	layout := workspace.Layout{Root: filepath.Join(dir, ".agent")}
	desc, err := workspace.WorkerStrategy{Layout: layout}.Resolve(pipeline.PipelineID, pipeline.Variables)
	if err != nil {
		return err
	}
	return w.Runner.RunPipeline(ctx, id, pipeline, desc)
}
