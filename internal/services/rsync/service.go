// Package rsync builds rsync command lines and runs them.
package rsync

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
)

// Binary is the rsync executable looked up in PATH.
const Binary = "rsync"

// Request describes one rsync invocation.
type Request struct {
	Args    []string
	Env     []string // added to the process environment
	Verbose bool     // log the full output instead of the summary
}

// Service defines the interface for rsync operations.
type Service interface {
	Sync(ctx context.Context, req Request) (*models.SyncResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs a command with additional environment variables.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
	binary   string
}

// New creates a new rsync service.
func New(logger zerolog.Logger) *Impl {
	return NewWithExecutor(logger, &DefaultExecutor{})
}

// NewWithExecutor creates a new rsync service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
		binary:   Binary,
	}
}

// exitCoder is implemented by *exec.ExitError.
type exitCoder interface {
	ExitCode() int
}

// Sync runs rsync and blocks until it exits. A non-zero exit is reported in
// the result's Error and ExitCode; ExitCode is -1 if rsync did not run.
func (s *Impl) Sync(ctx context.Context, req Request) (*models.SyncResult, error) {
	s.logger.Info().Msg("copying files, this may take a long time")
	s.logger.Debug().Strs("args", req.Args).Msg("running rsync")

	start := time.Now()
	output, err := s.executor.ExecuteWithEnv(ctx, req.Env, s.binary, req.Args...)

	result := &models.SyncResult{
		Output:   splitLines(output),
		Duration: time.Since(start),
	}

	if err != nil {
		var ec exitCoder
		if errors.As(err, &ec) && ec.ExitCode() >= 0 {
			result.ExitCode = ec.ExitCode()
			result.Error = errors.New(Describe(result.ExitCode))
		} else {
			result.ExitCode = -1
			result.Error = errors.Wrapf(err, "running %s", s.binary)
		}
		s.logFailure(result, req.Verbose)
		return result, nil
	}

	s.logOutput(result.Output, req.Verbose)
	s.logger.Info().Dur("duration", result.Duration).Msg("rsync completed")

	return result, nil
}

func (s *Impl) logOutput(lines []string, verbose bool) {
	if !verbose && len(lines) > 2 {
		// The last two lines are the transfer summary.
		lines = lines[len(lines)-2:]
	}
	for _, line := range lines {
		s.logger.Info().Str("rsync", line).Send()
	}
}

func (s *Impl) logFailure(result *models.SyncResult, verbose bool) {
	event := s.logger.Error()
	if IsPartialTransfer(result.ExitCode) {
		event = s.logger.Warn()
	}
	event.Int("exit_code", result.ExitCode).Msg(result.Error.Error())

	if !verbose {
		return
	}
	for _, line := range result.Output {
		s.logger.Warn().Str("rsync", line).Send()
	}
}

func splitLines(output []byte) []string {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
