package logging

import "testing"

func TestOrNopHandlesNil(t *testing.T) {
	l := OrNop(nil)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("no panic: %d", 1)
}

func TestOrNopPassesThrough(t *testing.T) {
	real := NewComponentLogger("test")
	if OrNop(real) != real {
		t.Fatal("expected OrNop to pass through a non-nil logger unchanged")
	}
}

func TestComponentLoggerDoesNotPanic(t *testing.T) {
	l := NewComponentLogger("kernel")
	l.Debug("x=%d", 1)
	l.Info("y=%s", "z")
	l.Warn("oops")
	l.Error("boom: %v", errTest{})
}

type errTest struct{}

func (errTest) Error() string { return "test error" }
