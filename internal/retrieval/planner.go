package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// Generator is the text-generation capability slice retrieval needs.
type Generator interface {
	GenerateText(ctx context.Context, model, systemPrompt, userPrompt string, maxOutputTokens int) (string, error)
}

// Planner expands one question into a small set of query variants to
// widen recall. Failures degrade to the question itself.
type Planner struct {
	gen    Generator
	model  string
	logger *log.Logger
}

func NewPlanner(gen Generator, model string, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLAN] ", log.LstdFlags)
	}
	return &Planner{gen: gen, model: model, logger: logger}
}

const plannerSystemPrompt = "You rewrite search queries. " +
	"Given a question, produce alternative phrasings that could surface relevant passages in a document corpus. " +
	"Respond with a JSON array of strings and nothing else."

// Plan returns 1..maxVariants query variants, the original question
// always first.
func (p *Planner) Plan(ctx context.Context, question string, maxVariants int) []string {
	question = strings.TrimSpace(question)
	if maxVariants < 1 {
		maxVariants = 1
	}
	variants := []string{question}
	if p.gen == nil || maxVariants == 1 {
		return variants
	}

	userPrompt := fmt.Sprintf("Question: %s\n\nReturn up to %d alternative search queries as a JSON array.", question, maxVariants-1)
	raw, err := p.gen.GenerateText(ctx, p.model, plannerSystemPrompt, userPrompt, 300)
	if err != nil {
		p.logger.Printf("warn: variant planning failed, using question only: %v", err)
		return variants
	}

	parsed := parseVariantArray(raw)
	seen := map[string]struct{}{strings.ToLower(question): {}}
	for _, v := range parsed {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		variants = append(variants, v)
		if len(variants) >= maxVariants {
			break
		}
	}
	return variants
}

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseVariantArray tolerates prose around the JSON array, which models
// emit despite instructions.
func parseVariantArray(raw string) []string {
	match := jsonArrayPattern.FindString(raw)
	if match == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil
	}
	return out
}
