package executor

import "testing"

func TestCompressOutputLeavesSmallPayloadUntouched(t *testing.T) {
	data, truncated := compressOutput("small", DefaultOutputBudget)
	if truncated {
		t.Fatal("did not expect truncation for a small payload")
	}
	if data != "small" {
		t.Fatalf("expected payload unchanged, got %#v", data)
	}
}

func TestCompressOutputTruncatesOversizedPayload(t *testing.T) {
	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'a'
	}
	data, truncated := compressOutput(string(big), 100)
	if !truncated {
		t.Fatal("expected truncation for an oversized payload")
	}
	text, ok := data.(string)
	if !ok {
		t.Fatalf("expected string output, got %T", data)
	}
	if len(text) > 200 {
		t.Fatalf("expected truncated text near the budget, got length %d", len(text))
	}
}

func TestCompressOutputZeroBudgetDisablesCompression(t *testing.T) {
	data, truncated := compressOutput("anything", 0)
	if truncated {
		t.Fatal("expected zero budget to disable compression")
	}
	if data != "anything" {
		t.Fatalf("expected unchanged payload, got %#v", data)
	}
}
