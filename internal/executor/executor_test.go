package executor

import (
	"context"
	"strings"
	"testing"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

type stubDispatcher struct {
	commands map[string]domain.ToolCommand
	ensure   func(skill string) error
}

func (d *stubDispatcher) GetCommand(fqName string) (domain.ToolCommand, bool) {
	cmd, ok := d.commands[fqName]
	return cmd, ok
}

func (d *stubDispatcher) EnsureLoaded(skill string) error {
	if d.ensure != nil {
		return d.ensure(skill)
	}
	return nil
}

type stubInvoker struct {
	fn func(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error)
}

func (i *stubInvoker) Invoke(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error) {
	return i.fn(ctx, cmd, args)
}

func pingCommand() domain.ToolCommand {
	return domain.ToolCommand{
		FQName: "echo.ping",
		Skill:  "echo",
		Name:   "ping",
		Parameters: domain.ParameterSchema{
			Type: "object",
			Properties: map[string]domain.ParameterProperty{
				"count": {Type: "integer"},
			},
			Required: []string{"count"},
		},
	}
}

func TestExecuteSuccessPath(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"echo.ping": pingCommand()}}
	inv := &stubInvoker{fn: func(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error) {
		return "pong", nil
	}}
	e := New(disp, inv)

	resp := e.Execute(context.Background(), "echo.ping", map[string]any{"count": 3})
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Data != "pong" {
		t.Fatalf("expected pong, got %v", resp.Data)
	}
}

func TestExecuteResolvesAlias(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"echo.ping": pingCommand()}}
	inv := &stubInvoker{fn: func(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error) {
		return "pong", nil
	}}
	e := New(disp, inv, WithAliases(map[string]string{"ping": "echo.ping"}))

	resp := e.Execute(context.Background(), "ping", map[string]any{"count": 1})
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("expected success via alias, got %+v", resp)
	}
}

func TestExecuteMissTriggersEnsureLoadedThenRetry(t *testing.T) {
	calls := 0
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{}}
	disp.ensure = func(skill string) error {
		calls++
		disp.commands["echo.ping"] = pingCommand()
		return nil
	}
	inv := &stubInvoker{fn: func(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error) {
		return "pong", nil
	}}
	e := New(disp, inv)

	resp := e.Execute(context.Background(), "echo.ping", map[string]any{"count": 1})
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("expected success after JIT load, got %+v", resp)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one EnsureLoaded call, got %d", calls)
	}
}

func TestExecuteToolNotFoundWhenEnsureLoadedFails(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{}, ensure: func(string) error {
		return domain.NewError(domain.KindToolNotFound, "no such skill", nil)
	}}
	e := New(disp, &stubInvoker{fn: func(context.Context, domain.ToolCommand, map[string]any) (any, error) { return nil, nil }})

	resp := e.Execute(context.Background(), "ghost.run", nil)
	if resp.Status != domain.StatusError || resp.ErrorKind != string(domain.KindToolNotFound) {
		t.Fatalf("expected TOOL_NOT_FOUND error, got %+v", resp)
	}
}

func TestExecuteFilteredCommandIsBlocked(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"danger.run": {FQName: "danger.run", Skill: "danger"}}}
	e := New(disp, &stubInvoker{fn: func(context.Context, domain.ToolCommand, map[string]any) (any, error) { return "x", nil }},
		WithFilterCommands([]string{"danger.*"}))

	resp := e.Execute(context.Background(), "danger.run", nil)
	if resp.Status != domain.StatusBlocked {
		t.Fatalf("expected blocked, got %+v", resp)
	}
}

func TestExecuteFilterAllowExceptionOverridesBlock(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"danger.safe": {FQName: "danger.safe", Skill: "danger"}}}
	e := New(disp, &stubInvoker{fn: func(context.Context, domain.ToolCommand, map[string]any) (any, error) { return "x", nil }},
		WithFilterCommands([]string{"danger.*", "!danger.safe"}))

	resp := e.Execute(context.Background(), "danger.safe", nil)
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("expected allow exception to override block, got %+v", resp)
	}
}

func TestExecuteMissingRequiredArgumentIsInvalidArgument(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"echo.ping": pingCommand()}}
	e := New(disp, &stubInvoker{fn: func(context.Context, domain.ToolCommand, map[string]any) (any, error) { return "x", nil }})

	resp := e.Execute(context.Background(), "echo.ping", map[string]any{})
	if resp.Status != domain.StatusError || resp.ErrorKind != string(domain.KindMissingRequired) {
		t.Fatalf("expected MISSING_REQUIRED, got %+v", resp)
	}
}

func TestExecuteCoercesStringToInteger(t *testing.T) {
	var seenArgs map[string]any
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"echo.ping": pingCommand()}}
	inv := &stubInvoker{fn: func(ctx context.Context, cmd domain.ToolCommand, args map[string]any) (any, error) {
		seenArgs = args
		return "ok", nil
	}}
	e := New(disp, inv)

	resp := e.Execute(context.Background(), "echo.ping", map[string]any{"count": "5"})
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", resp)
	}
	if seenArgs["count"] != int64(5) {
		t.Fatalf("expected coerced int64(5), got %#v", seenArgs["count"])
	}
}

func TestExecuteParameterCollisionWithReservedNameSucceeds(t *testing.T) {
	cmd := domain.ToolCommand{
		FQName: "shell.run",
		Skill:  "shell",
		Parameters: domain.ParameterSchema{
			Type:       "object",
			Properties: map[string]domain.ParameterProperty{"command": {Type: "string"}},
			Required:   []string{"command"},
		},
	}
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"shell.run": cmd}}
	var seenArgs map[string]any
	inv := &stubInvoker{fn: func(ctx context.Context, c domain.ToolCommand, args map[string]any) (any, error) {
		seenArgs = args
		return "ran", nil
	}}
	e := New(disp, inv)

	resp := e.Execute(context.Background(), "shell.run", map[string]any{"command": "ls"})
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", resp)
	}
	if seenArgs["command"] != "ls" {
		t.Fatalf("expected command arg to pass through untouched, got %#v", seenArgs["command"])
	}
}

func TestExecuteRecoversInvokerPanic(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"echo.ping": pingCommand()}}
	inv := &stubInvoker{fn: func(context.Context, domain.ToolCommand, map[string]any) (any, error) {
		panic("boom")
	}}
	e := New(disp, inv)

	resp := e.Execute(context.Background(), "echo.ping", map[string]any{"count": 1})
	if resp.Status != domain.StatusError || resp.ErrorKind != string(domain.KindToolExecutionFailed) {
		t.Fatalf("expected recovered-panic error, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "boom") {
		t.Fatalf("expected panic message preserved, got %q", resp.Message)
	}
}

func TestExecuteCompressesOversizedOutput(t *testing.T) {
	disp := &stubDispatcher{commands: map[string]domain.ToolCommand{"echo.ping": pingCommand()}}
	big := strings.Repeat("x", 5000)
	inv := &stubInvoker{fn: func(context.Context, domain.ToolCommand, map[string]any) (any, error) {
		return big, nil
	}}
	e := New(disp, inv, WithOutputBudget(100))

	resp := e.Execute(context.Background(), "echo.ping", map[string]any{"count": 1})
	if resp.Status != domain.StatusPartial {
		t.Fatalf("expected partial status on truncation, got %+v", resp.Status)
	}
	text, ok := resp.Data.(string)
	if !ok || !strings.Contains(text, truncationMarker) {
		t.Fatalf("expected truncation marker in data, got %#v", resp.Data)
	}
}
