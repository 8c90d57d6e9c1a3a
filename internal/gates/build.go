package gates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// outputTail is how much build output is kept for reporting
const outputTail = 4096

// BuildConfig configures the build gate
type BuildConfig struct {
	Command  string   // split like a Bourne shell, no shell expansion
	Dir      string   // working directory, defaults to "."
	Artifact string   // relative to Dir unless absolute
	Env      []string // extra KEY=VALUE pairs on top of the inherited environment
	LogPath  string   // optional file receiving the full output of the last build
}

// BuildResult is the outcome of one build
type BuildResult struct {
	Gate     GateType
	Passed   bool
	Size     int64 // artifact size in bytes, valid when Passed
	ExitCode int
	Output   string // tail of the combined output
	Duration time.Duration
	Error    error // why the build did not pass
}

// BuildGate compiles the current configuration
type BuildGate struct {
	cfg  BuildConfig
	argv []string
}

// NewBuildGate validates the configuration and parses the command
func NewBuildGate(cfg *BuildConfig) (*BuildGate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build config is required")
	}
	if cfg.Artifact == "" {
		return nil, fmt.Errorf("artifact path is required")
	}
	argv, err := splitCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	c := *cfg
	if c.Dir == "" {
		c.Dir = "."
	}
	return &BuildGate{cfg: c, argv: argv}, nil
}

// ArtifactPath returns the resolved artifact location
func (g *BuildGate) ArtifactPath() string {
	if filepath.IsAbs(g.cfg.Artifact) {
		return g.cfg.Artifact
	}
	return filepath.Join(g.cfg.Dir, g.cfg.Artifact)
}

// Build runs the build command to completion. A running build is never
// interrupted; ctx is only checked before starting, and the command runs in
// its own process group so a terminal interrupt does not reach it.
// The returned error is non-nil only when the command could not be run at all.
func (g *BuildGate) Build(ctx context.Context) (*BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &BuildResult{Gate: GateBuild}
	start := time.Now()

	tail := newTailBuffer(outputTail)
	var out io.Writer = tail
	if g.cfg.LogPath != "" {
		logFile, err := os.Create(g.cfg.LogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create build log: %w", err)
		}
		defer func() { _ = logFile.Close() }()
		out = io.MultiWriter(logFile, tail)
	}

	cmd := exec.Command(g.argv[0], g.argv[1:]...)
	cmd.Dir = g.cfg.Dir
	cmd.Env = append(os.Environ(), g.cfg.Env...)
	cmd.Stdout = out
	cmd.Stderr = out
	detach(cmd)

	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Output = tail.String()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, g.argv[0], err)
		}
		result.ExitCode = exitErr.ExitCode()
		result.Error = fmt.Errorf("build failed: %w", err)
		return result, nil
	}

	info, err := os.Stat(g.ArtifactPath())
	if err != nil {
		result.Error = fmt.Errorf("artifact missing after build: %w", err)
		return result, nil
	}
	if !info.Mode().IsRegular() {
		result.Error = fmt.Errorf("artifact %s is not a regular file", g.ArtifactPath())
		return result, nil
	}

	result.Passed = true
	result.Size = info.Size()
	return result, nil
}
