package retrieval

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
)

type fakeGen struct {
	reply string
	err   error
	calls int
}

func (f *fakeGen) GenerateText(_ context.Context, _, _, _ string, _ int) (string, error) {
	f.calls++
	return f.reply, f.err
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestPlanParsesVariants(t *testing.T) {
	gen := &fakeGen{reply: `["deployment runbook", "release process steps"]`}
	p := NewPlanner(gen, "judge-model", testLogger())

	got := p.Plan(context.Background(), "how do we deploy?", 4)
	want := []string{"how do we deploy?", "deployment runbook", "release process steps"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestPlanDegradesOnProviderError(t *testing.T) {
	gen := &fakeGen{err: fmt.Errorf("unavailable")}
	p := NewPlanner(gen, "judge-model", testLogger())

	got := p.Plan(context.Background(), "how do we deploy?", 4)
	if len(got) != 1 || got[0] != "how do we deploy?" {
		t.Fatalf("got %v", got)
	}
}

func TestPlanDegradesOnUnparseableReply(t *testing.T) {
	gen := &fakeGen{reply: "I think you should search for deployment things."}
	p := NewPlanner(gen, "judge-model", testLogger())

	got := p.Plan(context.Background(), "how do we deploy?", 4)
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestPlanToleratesProseAroundArray(t *testing.T) {
	gen := &fakeGen{reply: "Here are some queries:\n[\"ci pipeline\"]\nHope that helps."}
	p := NewPlanner(gen, "judge-model", testLogger())

	got := p.Plan(context.Background(), "how do we deploy?", 4)
	if len(got) != 2 || got[1] != "ci pipeline" {
		t.Fatalf("got %v", got)
	}
}

func TestPlanCapsAndDedupes(t *testing.T) {
	gen := &fakeGen{reply: `["a1", "A1", "a2", "a3", "a4"]`}
	p := NewPlanner(gen, "judge-model", testLogger())

	got := p.Plan(context.Background(), "q", 3)
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	if got[1] != "a1" || got[2] != "a2" {
		t.Fatalf("got %v", got)
	}
}

func TestPlanSingleVariantSkipsGeneration(t *testing.T) {
	gen := &fakeGen{reply: `["x"]`}
	p := NewPlanner(gen, "judge-model", testLogger())

	if got := p.Plan(context.Background(), "q", 1); len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	if gen.calls != 0 {
		t.Fatalf("generation called %d times", gen.calls)
	}
}
