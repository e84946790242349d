// Package executor is the single chokepoint for turning an MCP tools/call
// into a ToolResponse: alias resolution, JIT-load-on-miss,
// filter-command enforcement, argument validation, invocation, output
// compression, and structured-error wrapping all happen here and nowhere
// else.
package executor

import (
	"context"
	"fmt"
	"time"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
)

// Dispatcher is the *skillcontext.SkillContext surface the Executor needs.
type Dispatcher interface {
	GetCommand(fqName string) (domain.ToolCommand, bool)
	EnsureLoaded(skillName string) error
}

// skillOf returns the skill-name portion of a fully-qualified tool name,
// duplicated from skillcontext.SkillOf to avoid an import solely for one
// three-line helper; both must agree on the "." delimiter convention.
func skillOf(fqName string) string {
	for i := 0; i < len(fqName); i++ {
		if fqName[i] == '.' {
			return fqName[:i]
		}
	}
	return fqName
}

// Option customizes Executor construction.
type Option func(*Executor)

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(l) }
}

// WithAliases sets the public-name -> fully-qualified-name alias map
// (skills.overrides, projected to its alias component by the composition
// root).
func WithAliases(aliases map[string]string) Option {
	return func(e *Executor) { e.aliases = aliases }
}

// WithFilterCommands sets the block-glob list (skills.filter_commands);
// entries prefixed with "!" are allow exceptions.
func WithFilterCommands(patterns []string) Option {
	return func(e *Executor) { e.filterPatterns = patterns }
}

// WithOutputBudget overrides the output-compression budget in bytes
// (default DefaultOutputBudget).
func WithOutputBudget(budget int) Option {
	return func(e *Executor) {
		if budget > 0 {
			e.outputBudget = budget
		}
	}
}

// WithTimeout overrides the per-call timeout (default 60s).
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Executor is the kernel's tools/call chokepoint. Its own parameter names
// deliberately avoid a reserved set
// ("command", "handler", "context", "skill_name", "skill_path", "metadata",
// "cwd") so a skill-declared parameter of any of those names can never
// collide with the Executor's own dispatch signature.
type Executor struct {
	logger         logging.Logger
	dispatch       Dispatcher
	invoker        domain.CommandInvoker
	aliases        map[string]string
	filterPatterns []string
	outputBudget   int
	timeout        time.Duration
}

// New constructs an Executor.
func New(dispatch Dispatcher, invoker domain.CommandInvoker, opts ...Option) *Executor {
	e := &Executor{
		logger:       logging.NewComponentLogger("Executor"),
		dispatch:     dispatch,
		invoker:      invoker,
		outputBudget: DefaultOutputBudget,
		timeout:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tools/call end to end, never letting a command's error
// (or panic) escape unwrapped.
func (e *Executor) Execute(ctx context.Context, name string, arguments map[string]any) *domain.ToolResponse {
	fqName := resolveAlias(name, e.aliases)

	cmd, ok := e.dispatch.GetCommand(fqName)
	if !ok {
		if err := e.dispatch.EnsureLoaded(skillOf(fqName)); err != nil {
			return e.errorResponse(domain.KindToolNotFound, fmt.Sprintf("tool %q not found: %v", fqName, err))
		}
		cmd, ok = e.dispatch.GetCommand(fqName)
		if !ok {
			return e.errorResponse(domain.KindToolNotFound, fmt.Sprintf("tool %q not found", fqName))
		}
	}

	if isFiltered(fqName, e.filterPatterns) {
		return e.blockedResponse(domain.KindCommandBlocked, fmt.Sprintf("tool %q is filtered by configuration", fqName))
	}

	cleaned, verr := validateArguments(cmd.Parameters, arguments)
	if verr != nil {
		return e.errorResponseFromKernelError(verr)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.invoke(callCtx, cmd, cleaned)
	if err != nil {
		if callCtx.Err() != nil {
			return e.errorResponse(domain.KindToolTimeout, fmt.Sprintf("tool %q timed out: %v", fqName, err))
		}
		return e.errorResponse(domain.KindToolExecutionFailed, err.Error())
	}

	data, truncated := compressOutput(result, e.outputBudget)
	status := domain.StatusSuccess
	if truncated {
		status = domain.StatusPartial
	}
	return &domain.ToolResponse{
		Status: status,
		Data:   data,
		Ts:     time.Now(),
	}
}

// invoke calls the command's backing implementation, recovering from any
// panic instead of letting it cross the dispatch boundary — the same
// defer-recover-into-error shape alex's serial tool executor
// uses around each tool call.
func (e *Executor) invoke(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool %s panicked: %v", cmd.FQName, r)
			err = fmt.Errorf("tool %s panicked: %v", cmd.FQName, r)
		}
	}()
	return e.invoker.Invoke(ctx, cmd, args)
}

func (e *Executor) errorResponse(kind domain.Kind, message string) *domain.ToolResponse {
	return &domain.ToolResponse{
		Status:    domain.StatusError,
		ErrorCode: kind.Code(),
		ErrorKind: string(kind),
		Message:   message,
		Ts:        time.Now(),
	}
}

func (e *Executor) blockedResponse(kind domain.Kind, message string) *domain.ToolResponse {
	return &domain.ToolResponse{
		Status:    domain.StatusBlocked,
		ErrorCode: kind.Code(),
		ErrorKind: string(kind),
		Message:   message,
		Ts:        time.Now(),
	}
}

func (e *Executor) errorResponseFromKernelError(kerr *domain.KernelError) *domain.ToolResponse {
	return e.errorResponse(kerr.Kind, kerr.Error())
}
