package retrieval

import (
	"context"
	"fmt"
	"testing"
)

func TestClassifyDecisionTable(t *testing.T) {
	c := NewClassifier(nil, "", testLogger())

	cases := []struct {
		outcome  string
		wantMode string
		grounded bool
	}{
		{OutcomePrimary, FallbackNone, true},
		{OutcomeBroadened, FallbackBroadened, true},
	}
	for _, tc := range cases {
		got := c.Classify(context.Background(), "q", tc.outcome)
		if got.FallbackMode != tc.wantMode || got.Grounded != tc.grounded {
			t.Errorf("%s: %+v", tc.outcome, got)
		}
	}
}

func TestClassifyNoContextInScope(t *testing.T) {
	gen := &fakeGen{reply: "yes"}
	c := NewClassifier(gen, "judge-model", testLogger())

	got := c.Classify(context.Background(), "how is the ingest pipeline configured?", OutcomeNoContext)
	if got.FallbackMode != FallbackModelKnowledge || got.Grounded {
		t.Fatalf("judgment: %+v", got)
	}
}

func TestClassifyNoContextOutOfScope(t *testing.T) {
	gen := &fakeGen{reply: "no"}
	c := NewClassifier(gen, "judge-model", testLogger())

	got := c.Classify(context.Background(), "tell me about medieval pottery", OutcomeNoContext)
	if got.FallbackMode != FallbackOutOfScope || got.Grounded {
		t.Fatalf("judgment: %+v", got)
	}
}

func TestClassifyOffTopicHeuristicSkipsJudge(t *testing.T) {
	gen := &fakeGen{reply: "yes"}
	c := NewClassifier(gen, "judge-model", testLogger())

	got := c.Classify(context.Background(), "what is the weather in Lisbon?", OutcomeNoContext)
	if got.FallbackMode != FallbackOutOfScope {
		t.Fatalf("judgment: %+v", got)
	}
	if gen.calls != 0 {
		t.Fatalf("judge called %d times", gen.calls)
	}
}

func TestClassifyJudgeFailureDefaultsInScope(t *testing.T) {
	gen := &fakeGen{err: fmt.Errorf("rate limited")}
	c := NewClassifier(gen, "judge-model", testLogger())

	got := c.Classify(context.Background(), "unknown territory question", OutcomeNoContext)
	if got.FallbackMode != FallbackModelKnowledge {
		t.Fatalf("judgment: %+v", got)
	}
}
