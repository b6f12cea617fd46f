// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agentproc implements C6: launching the external code-generation
// agent as a child process, streaming its stdout to the event classifier,
// and enforcing phase timeouts and cancellation with a terminate-then-kill
// grace sequence.
package agentproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ariadne-build/ariadne/internal/builderr"
	"github.com/ariadne-build/ariadne/internal/eventstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariadne-build/ariadne/internal/agentproc")

// KillGrace is the delay between sending the terminate signal and forcibly
// killing the subprocess.
const KillGrace = 3 * time.Second

// Invocation describes one subprocess launch per the external-agent
// contract in §6: model, turn cap, allowed tools, MCP config path, and
// output format are all carried as argv, never env, except for the
// CLAUDE_CODE_BUILDER telemetry marker.
type Invocation struct {
	Command      string
	Model        string
	MaxTurns     int
	AllowedTools []string
	MCPConfigPath string
	OutputFormat string // "stream-json" or "json"
	WorkingDir   string
	Prompt       string
	Version      string

	PhaseTimeout time.Duration
	Classifier   *eventstream.Classifier
}

// Result is the outcome of one Run.
type Result struct {
	ExitCode   int
	TimedOut   bool
	Cancelled  bool
	Stderr     string
	Err        error
}

// Driver runs Invocations.
type Driver struct{}

// New constructs a Driver.
func New() *Driver { return &Driver{} }

// Run launches the subprocess, writes the prompt to stdin then closes it,
// streams stdout line-by-line into inv.Classifier, and enforces
// inv.PhaseTimeout. ctx cancellation (SIGINT/SIGTERM on the parent)
// triggers the same cancellation sequence as a timeout, but Result.Cancelled
// is set instead of Result.TimedOut.
func (d *Driver) Run(ctx context.Context, inv Invocation) (result Result) {
	ctx, span := tracer.Start(ctx, "agentproc.Run", trace.WithAttributes(
		attribute.String("model", inv.Model),
		attribute.Int("max_turns", inv.MaxTurns),
	))
	defer func() {
		if result.Err != nil {
			span.RecordError(result.Err)
		}
		span.End()
	}()

	runCtx, cancel := context.WithTimeout(ctx, inv.PhaseTimeout)
	defer cancel()

	args := buildArgs(inv)
	cmd := exec.CommandContext(runCtx, inv.Command, args...)
	cmd.Dir = inv.WorkingDir
	cmd.Env = append(cmd.Env, fmt.Sprintf("CLAUDE_CODE_BUILDER=%s", inv.Version))
	// CommandContext kills with SIGKILL directly on context cancellation;
	// the graceful terminate-then-kill sequence is implemented explicitly
	// below instead, so disable the default Cancel behavior.
	cmd.Cancel = func() error { return nil }

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Result{Err: fmt.Errorf("start subprocess: %w", err)}
	}

	go func() {
		io.WriteString(stdin, inv.Prompt)
		stdin.Close()
	}()

	consumeDone := make(chan error, 1)
	go func() {
		consumeDone <- inv.Classifier.Consume(runCtx, stdout)
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		d.cancelSequence(cmd, stdin)
		<-waitDone
		<-consumeDone
		if errors.Is(ctx.Err(), context.Canceled) {
			return Result{Cancelled: true, Stderr: stderrBuf.String(), Err: builderr.ErrSubprocessCancelled}
		}
		return Result{TimedOut: true, Stderr: stderrBuf.String(), Err: builderr.ErrSubprocessTimeout}

	case waitErr := <-waitDone:
		<-consumeDone
		exitCode := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				return Result{Err: fmt.Errorf("wait subprocess: %w", waitErr)}
			}
		}
		if exitCode != 0 {
			return Result{ExitCode: exitCode, Stderr: stderrBuf.String(), Err: builderr.ErrSubprocessFailed}
		}
		return Result{ExitCode: 0, Stderr: stderrBuf.String()}
	}
}

// cancelSequence closes stdin, sends the platform terminate signal, and
// after KillGrace forcibly kills the process if it has not yet exited.
func (d *Driver) cancelSequence(cmd *exec.Cmd, stdin io.Closer) {
	stdin.Close()
	if cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(KillGrace)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-timer.C:
		cmd.Process.Kill()
	}
}

func buildArgs(inv Invocation) []string {
	args := []string{
		"--model", inv.Model,
		"--max-turns", fmt.Sprintf("%d", inv.MaxTurns),
		"--output-format", inv.OutputFormat,
	}
	if len(inv.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(inv.AllowedTools, ","))
	}
	if inv.MCPConfigPath != "" {
		args = append(args, "--mcp-config", inv.MCPConfigPath)
	}
	return args
}

// TimeoutMultiplier returns 1.5 for phases whose name matches
// test|deploy|optimization, and 1 otherwise, per the scheduler's timeout
// adjustment rule.
func TimeoutMultiplier(phaseName string) float64 {
	lower := strings.ToLower(phaseName)
	for _, kw := range []string{"test", "deploy", "optimization"} {
		if strings.Contains(lower, kw) {
			return 1.5
		}
	}
	return 1.0
}
