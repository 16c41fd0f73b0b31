package retrieval

import (
	"context"
	"log"
	"strings"
)

// Fallback modes.
const (
	FallbackNone           = "none"
	FallbackBroadened      = "broadened_retrieval"
	FallbackModelKnowledge = "model_knowledge"
	FallbackOutOfScope     = "out_of_scope"
)

// Judgment is the grounding classification for one ask.
type Judgment struct {
	Outcome      string
	FallbackMode string
	Grounded     bool
}

// offTopicTerms short-circuits the scope judgment for obviously
// unrelated requests before spending a generation call.
var offTopicTerms = []string{
	"weather",
	"nba",
	"nfl",
	"football score",
	"movie review",
	"recipe",
	"horoscope",
	"lottery",
}

// Classifier decides fallback_mode and grounding from the retrieval
// outcome, delegating the in-scope call to the generation capability
// when no evidence exists.
type Classifier struct {
	gen    Generator
	model  string
	logger *log.Logger
}

func NewClassifier(gen Generator, model string, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[CLASSIFY] ", log.LstdFlags)
	}
	return &Classifier{gen: gen, model: model, logger: logger}
}

const judgeSystemPrompt = "You decide whether a question plausibly relates to an organisation's internal " +
	"knowledge base of ingested documents and web pages. " +
	"Reply with exactly one word: yes or no."

// Classify maps the retrieval outcome to a fallback mode. A failed or
// unavailable scope judgment defaults to in-scope so the user still
// gets a best-effort answer.
func (c *Classifier) Classify(ctx context.Context, question, outcome string) Judgment {
	switch outcome {
	case OutcomePrimary:
		return Judgment{Outcome: outcome, FallbackMode: FallbackNone, Grounded: true}
	case OutcomeBroadened:
		return Judgment{Outcome: outcome, FallbackMode: FallbackBroadened, Grounded: true}
	}

	if c.isOutOfScope(ctx, question) {
		return Judgment{Outcome: OutcomeNoContext, FallbackMode: FallbackOutOfScope, Grounded: false}
	}
	return Judgment{Outcome: OutcomeNoContext, FallbackMode: FallbackModelKnowledge, Grounded: false}
}

func (c *Classifier) isOutOfScope(ctx context.Context, question string) bool {
	q := strings.ToLower(question)
	for _, term := range offTopicTerms {
		if strings.Contains(q, term) {
			return true
		}
	}
	if c.gen == nil {
		return false
	}

	reply, err := c.gen.GenerateText(ctx, c.model, judgeSystemPrompt, "Question: "+question, 10)
	if err != nil {
		c.logger.Printf("warn: scope judgment failed, assuming in-scope: %v", err)
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "no")
}
