package executor

import "testing"

func TestIsFilteredBlocksOnMatchingGlob(t *testing.T) {
	if !isFiltered("danger.run", []string{"danger.*"}) {
		t.Fatal("expected danger.run to be filtered")
	}
}

func TestIsFilteredAllowExceptionWins(t *testing.T) {
	if isFiltered("danger.safe", []string{"danger.*", "!danger.safe"}) {
		t.Fatal("expected allow exception to override the block")
	}
}

func TestIsFilteredNoPatternsAllowsEverything(t *testing.T) {
	if isFiltered("anything.tool", nil) {
		t.Fatal("expected no patterns to filter nothing")
	}
}

func TestIsFilteredNonMatchingPatternAllows(t *testing.T) {
	if isFiltered("safe.tool", []string{"danger.*"}) {
		t.Fatal("expected non-matching pattern to allow")
	}
}
