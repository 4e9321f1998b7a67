package core

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Executor runs pipeline steps.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// RunStep runs a single step with sh -c in dir and returns its combined
// output. Variables are exported on top of the agent's own environment.
func (e *Executor) RunStep(ctx context.Context, step Step, dir string, variables map[string]string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)
	cmd.Dir = dir
	cmd.Env = BuildEnv(variables)
	// Background children may keep the output pipe open after sh is killed.
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

// BuildEnv merges the process environment with extra. Extra entries win.
func BuildEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(extra))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := extra[key]; ok {
			continue
		}
		env = append(env, entry)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
