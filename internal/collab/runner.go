// Package collab runs gate collaborator commands and turns their raw output
// into evidence. A collaborator is any command: the runner gives it a
// working directory and a timeout, captures stdout/stderr/exit code, and a
// pluggable parser maps that to a pass/fail/skip outcome.
package collab

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/gatewright/internal/evidence"
)

// Shell convention: 127 means the command was not found. A gate whose tool
// is absent skips rather than fails.
const exitCommandNotFound = 127

const defaultTimeout = 2 * time.Minute

// Spec is what the runner needs to know about one gate's collaborator.
type Spec struct {
	Gate    string
	Command string
	Parser  string
	Timeout time.Duration
}

// Outcome is one collaborator run: the evidence the parser produced plus
// the raw run facts for logging and audit.
type Outcome struct {
	Gate       string
	Evidence   evidence.Evidence
	ExitCode   int
	DurationMS int64
	Stdout     string
	Stderr     string
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes collaborators and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers[ParserGeneric] = &GenericParser{}
	r.parsers[ParserGoTest] = &GoTestParser{}
	r.parsers[ParserLintCount] = &LintCountParser{}
	r.parsers[ParserEvidenceLine] = &EvidenceLineParser{}
	return r
}

// Run executes one collaborator. Every failure mode still yields an
// Outcome: a missing tool skips, a timeout fails, a parser that cannot make
// sense of the output falls back to exit-code semantics. Only plumbing
// failures (the command could not be started at all) return an error.
func (r *Runner) Run(ctx context.Context, dir string, spec Spec) (Outcome, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, spec.Command)
	durationMS := time.Since(start).Milliseconds()

	out := Outcome{
		Gate:       spec.Gate,
		ExitCode:   exitCode,
		DurationMS: durationMS,
		Stdout:     stdout,
		Stderr:     stderr,
	}

	// The deadline kill surfaces as a plain nonzero exit, so the context is
	// the only reliable timeout signal.
	if ctx.Err() == context.DeadlineExceeded && exitCode != 0 {
		ev := evidence.Fail(evidence.ReasonTimeout,
			evidence.MetricInt(evidence.MetricDurationMS, durationMS))
		ev.FreeText = fmt.Sprintf("collaborator timed out after %s", timeout)
		out.Evidence = ev
		return out, nil
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			out.Evidence = evidence.Skip(evidence.ReasonMissingTool)
			return out, nil
		}
		return Outcome{}, fmt.Errorf("run collaborator for gate %q: %w", spec.Gate, err)
	}
	if exitCode == exitCommandNotFound {
		out.Evidence = evidence.Skip(evidence.ReasonMissingTool)
		return out, nil
	}

	name := spec.Parser
	if name == "" {
		name = DetectParser(spec.Command)
	}
	parser, ok := r.parsers[name]
	if !ok {
		parser = r.parsers[ParserGeneric]
	}

	ev := parser.Parse(stdout, stderr, exitCode)
	if ev.Kind != evidence.KindSkip {
		ev.Metrics = append(ev.Metrics, evidence.MetricInt(evidence.MetricDurationMS, durationMS))
	}
	out.Evidence = ev
	return out, nil
}
