// Package invoker implements the one concrete domain.CommandInvoker the
// kernel ships: each call runs the skill's script as a short-lived
// subprocess, grounded on alex's process manager
// (alex/internal/devops/process.Manager.Start — os/exec, captured
// stdout/stderr, a ctx-bounded lifetime) adapted from "long-running
// supervised service" to "one call, one process, one JSON result". The
// concrete semantics of what a skill's script does are out of scope
//; only the calling contract is specified here: the
// interpreter receives the script path and function name as arguments and
// the call's arguments as a JSON document on stdin, and must print exactly
// one JSON value (or nothing, for a void result) to stdout.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
)

// interpreters maps a script's file extension to the interpreter binary
// that runs it, mirroring the extensions the Scanner itself recognizes
// (internal/scanner.scriptExtensions).
var interpreters = map[string]string{
	".py": "python3",
	".js": "node",
	".ts": "node",
	".rb": "ruby",
	".lua": "lua",
	".sh":  "sh",
}

// Option customizes ProcessInvoker construction.
type Option func(*ProcessInvoker)

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(p *ProcessInvoker) { p.logger = logging.OrNop(l) }
}

// WithInterpreters overrides or extends the extension -> interpreter map.
func WithInterpreters(overrides map[string]string) Option {
	return func(p *ProcessInvoker) {
		for ext, bin := range overrides {
			p.interpreters[ext] = bin
		}
	}
}

// ProcessInvoker is the CommandInvoker backing the Executor's invocation
// step in a deployed kernel.
type ProcessInvoker struct {
	logger       logging.Logger
	interpreters map[string]string
}

// New constructs a ProcessInvoker.
func New(opts ...Option) *ProcessInvoker {
	p := &ProcessInvoker{
		logger:       logging.NewComponentLogger("Invoker"),
		interpreters: make(map[string]string, len(interpreters)),
	}
	for ext, bin := range interpreters {
		p.interpreters[ext] = bin
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Invoke satisfies domain.CommandInvoker. The entry point dispatched is
// "path::funcName" (the Scanner's own convention): when cmd declares
// variants, domain.SelectVariant picks the highest-priority available (or
// degraded) one and its Executor is used in place of cmd.EntryPoint;
// otherwise cmd.EntryPoint runs directly. Args are marshaled to JSON and
// piped on stdin, and stdout is unmarshaled back as the result (a blank
// stdout yields a nil result, for commands with no return value).
func (p *ProcessInvoker) Invoke(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error) {
	entryPoint := cmd.EntryPoint
	if variant, ok := domain.SelectVariant(cmd); ok {
		if variant.Status == domain.VariantUnavailable {
			return nil, fmt.Errorf("invoker: %s: selected variant %q is unavailable", cmd.FQName, variant.Name)
		}
		entryPoint = variant.Executor
		p.logger.Debug("invoke %s: dispatching via variant %q (%s)", cmd.FQName, variant.Name, variant.Status)
	}

	scriptPath, funcName, err := splitEntryPoint(entryPoint)
	if err != nil {
		return nil, err
	}
	interpreter, ok := p.interpreters[filepath.Ext(scriptPath)]
	if !ok {
		return nil, fmt.Errorf("invoker: no interpreter registered for %s", filepath.Ext(scriptPath))
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal arguments: %w", err)
	}

	execCmd := exec.CommandContext(ctx, interpreter, scriptPath, funcName)
	execCmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	if err := execCmd.Run(); err != nil {
		p.logger.Warn("invoke %s failed: %v (stderr: %s)", cmd.FQName, err, stderr.String())
		return nil, fmt.Errorf("invoker: %s: %w: %s", cmd.FQName, err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(out, &result); err != nil {
		// Not every skill emits JSON; fall back to the raw text rather
		// than failing a call that otherwise succeeded.
		return string(out), nil
	}
	return result, nil
}

func splitEntryPoint(entryPoint string) (path, funcName string, err error) {
	parts := strings.SplitN(entryPoint, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invoker: malformed entry point %q", entryPoint)
	}
	return parts[0], parts[1], nil
}
