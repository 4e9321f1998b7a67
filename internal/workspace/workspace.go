package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDockerWorkspace is used in docker mode when no override is set.
const DefaultDockerWorkspace = "/data/devops/workspace"

// Descriptor is the pair of directories a build runs with.
type Descriptor struct {
	WorkspaceDir string
	LogDir       string
}

// Resolver turns a pipeline into a ready-to-use Descriptor. Runners call it
// lazily, once they know which pipeline they are building.
type Resolver interface {
	Resolve(pipelineID string, variables map[string]string) (Descriptor, error)
}

// ConflictError is returned when the workspace path exists but is not a
// directory.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return "work space directory conflict: " + e.Path
}

// Layout derives per-pipeline paths below an agent home directory.
type Layout struct {
	Root string
}

// PipelineWorkspace returns the workspace path for a pipeline. It does not
// touch the filesystem.
func (l Layout) PipelineWorkspace(pipelineID string) string {
	return filepath.Join(l.Root, "workspace", pipelineID, "src")
}

// PipelineLogDir returns the log directory for a pipeline, creating it if
// needed.
func (l Layout) PipelineLogDir(pipelineID string) (string, error) {
	dir := filepath.Join(l.Root, "logs", pipelineID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log dir %s: %w", dir, err)
	}
	return dir, nil
}

// DockerStrategy resolves workspaces inside a build container. The container
// filesystem is assumed fresh, so no conflict check is made.
type DockerStrategy struct {
	Override string
	Layout   Layout
}

func (s DockerStrategy) Resolve(pipelineID string, _ map[string]string) (Descriptor, error) {
	dir := DefaultDockerWorkspace
	if strings.TrimSpace(s.Override) != "" {
		dir = s.Override
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("creating workspace %s: %w", dir, err)
	}

	logDir, err := s.Layout.PipelineLogDir(pipelineID)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{WorkspaceDir: dir, LogDir: logDir}, nil
}

// WorkerStrategy resolves per-pipeline workspaces on a shared worker host.
// An existing directory is reused so interrupted builds can resume.
type WorkerStrategy struct {
	Layout Layout
}

func (s WorkerStrategy) Resolve(pipelineID string, _ map[string]string) (Descriptor, error) {
	dir := s.Layout.PipelineWorkspace(pipelineID)

	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			abs, absErr := filepath.Abs(dir)
			if absErr != nil {
				abs = dir
			}
			return Descriptor{}, &ConflictError{Path: abs}
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Descriptor{}, fmt.Errorf("creating workspace %s: %w", dir, err)
		}
	default:
		return Descriptor{}, fmt.Errorf("inspecting workspace %s: %w", dir, err)
	}

	logDir, err := s.Layout.PipelineLogDir(pipelineID)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{WorkspaceDir: dir, LogDir: logDir}, nil
}
