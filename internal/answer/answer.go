package answer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/match9393/ContextForge/config"
	"github.com/match9393/ContextForge/internal/retrieval"
	"github.com/match9393/ContextForge/internal/storage"
)

// ImageGenerator is the optional diagram-generation capability.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size, quality string) ([]byte, error)
}

// Answer is the synthesized result for one question.
type Answer struct {
	Text               string   `json:"answer"`
	ConfidencePercent  int      `json:"confidence_percent"`
	Grounded           bool     `json:"grounded"`
	RetrievalOutcome   string   `json:"retrieval_outcome"`
	FallbackMode       string   `json:"fallback_mode"`
	WebpageLinks       []string `json:"webpage_links"`
	ImageURLs          []string `json:"image_urls"`
	GeneratedImageURLs []string `json:"generated_image_urls"`
}

const synthesisSystemPrompt = "You are ContextForge, an enterprise knowledge assistant. " +
	"Write concise, practical, synthesized answers in your own words. " +
	"Do not output citation blocks. " +
	"If no indexed context is provided, explicitly say that you are answering from model knowledge."

const outOfScopeAnswer = "I could not find relevant indexed sources, and this request appears outside the scope of " +
	"ContextForge (company knowledge and related domain topics)."

// Synthesizer produces the final answer, its confidence and any
// supplementary media.
type Synthesizer struct {
	cfg          config.AnswerConfig
	llm          config.LLMConfig
	gen          retrieval.Generator
	images       ImageGenerator
	objects      storage.ObjectStore
	assetsBucket string
	logger       *log.Logger
}

// NewSynthesizer validates the confidence scale: every grounded mode
// must outrank every ungrounded mode.
func NewSynthesizer(cfg config.AnswerConfig, llm config.LLMConfig, gen retrieval.Generator, images ImageGenerator, objects storage.ObjectStore, assetsBucket string, logger *log.Logger) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ANSWER] ", log.LstdFlags)
	}
	return &Synthesizer{
		cfg:          cfg,
		llm:          llm,
		gen:          gen,
		images:       images,
		objects:      objects,
		assetsBucket: assetsBucket,
		logger:       logger,
	}, nil
}

// Synthesize builds the final answer for one classified retrieval.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, bundle retrieval.ContextBundle, judgment retrieval.Judgment) (Answer, error) {
	out := Answer{
		ConfidencePercent: s.confidenceFor(judgment.FallbackMode),
		Grounded:          judgment.Grounded,
		RetrievalOutcome:  judgment.Outcome,
		FallbackMode:      judgment.FallbackMode,
	}

	if judgment.FallbackMode == retrieval.FallbackOutOfScope {
		out.Text = outOfScopeAnswer
		return out, nil
	}

	out.WebpageLinks = webpageLinks(bundle.Rows)
	out.ImageURLs = s.imageEvidenceURLs(bundle.Rows)

	text, err := s.gen.GenerateText(ctx, s.llm.AnswerModel, synthesisSystemPrompt, s.userPrompt(question, bundle, judgment), s.cfg.MaxOutputTokens)
	if err != nil {
		return Answer{}, fmt.Errorf("answer generation: %w", err)
	}
	out.Text = strings.TrimSpace(text)

	if s.images != nil && wantsDiagram(question) {
		if url := s.generateDiagram(ctx, question); url != "" {
			out.GeneratedImageURLs = []string{url}
		}
	}
	return out, nil
}

func (s *Synthesizer) confidenceFor(fallbackMode string) int {
	switch fallbackMode {
	case retrieval.FallbackNone:
		return s.cfg.ConfidenceNone
	case retrieval.FallbackBroadened:
		return s.cfg.ConfidenceBroadened
	case retrieval.FallbackModelKnowledge:
		return s.cfg.ConfidenceModelKnowledge
	default:
		return s.cfg.ConfidenceOutOfScope
	}
}

func (s *Synthesizer) userPrompt(question string, bundle retrieval.ContextBundle, judgment retrieval.Judgment) string {
	grounded := "no"
	if len(bundle.Rows) > 0 {
		grounded = "yes"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\n", question)
	fmt.Fprintf(&b, "Fallback mode: %s\n", judgment.FallbackMode)
	fmt.Fprintf(&b, "Indexed context available: %s\n\n", grounded)
	fmt.Fprintf(&b, "Indexed context:\n%s\n\n", contextRows(bundle))
	b.WriteString("Answer requirements:\n" +
		"1. Provide a direct answer.\n" +
		"2. Mention whether indexed context was found.\n" +
		"3. If context is absent, provide best-effort domain guidance.\n" +
		"4. No citation formatting.")
	return b.String()
}

func contextRows(bundle retrieval.ContextBundle) string {
	if len(bundle.Rows) == 0 {
		return "No indexed context was retrieved."
	}
	var lines []string
	for _, row := range bundle.Rows {
		text := strings.Join(strings.Fields(row.Text), " ")
		if len(text) > 500 {
			text = text[:500]
		}
		lines = append(lines, fmt.Sprintf("- source=%s type=%s url=%s\n  chunk=%s",
			row.SourceName, row.SourceType, row.SourceURL, text))
	}
	for _, doc := range bundle.Expanded {
		lines = append(lines, fmt.Sprintf("- full document %s:\n  %s", doc.SourceName, doc.Text))
	}
	return strings.Join(lines, "\n")
}

func webpageLinks(rows []retrieval.Evidence) []string {
	var links []string
	seen := map[string]struct{}{}
	for _, row := range rows {
		if row.SourceType != "web" || row.SourceURL == "" {
			continue
		}
		if _, dup := seen[row.SourceURL]; dup {
			continue
		}
		seen[row.SourceURL] = struct{}{}
		links = append(links, row.SourceURL)
	}
	return links
}

func (s *Synthesizer) imageEvidenceURLs(rows []retrieval.Evidence) []string {
	var urls []string
	seen := map[string]struct{}{}
	for _, row := range rows {
		if row.Modality != retrieval.ModalityCaption || row.StorageKey == "" {
			continue
		}
		if _, dup := seen[row.StorageKey]; dup {
			continue
		}
		seen[row.StorageKey] = struct{}{}
		urls = append(urls, s.objects.PresentableURL(s.assetsBucket, row.StorageKey))
	}
	return urls
}

var diagramTerms = []string{"diagram", "flowchart", "architecture", "visualize", "visualise", "draw", "chart", "sketch"}

func wantsDiagram(question string) bool {
	q := strings.ToLower(question)
	for _, term := range diagramTerms {
		if strings.Contains(q, term) {
			return true
		}
	}
	return false
}

// generateDiagram produces at most one image. Any failure is logged
// and the answer ships without it.
func (s *Synthesizer) generateDiagram(ctx context.Context, question string) string {
	prompt := "Clean technical diagram, white background, answering: " + question
	data, err := s.images.GenerateImage(ctx, prompt, "1024x1024", "standard")
	if err != nil {
		s.logger.Printf("warn: diagram generation failed: %v", err)
		return ""
	}
	key := "generated/" + uuid.NewString() + ".png"
	if err := s.objects.Upload(ctx, s.assetsBucket, key, data, "image/png"); err != nil {
		s.logger.Printf("warn: diagram upload failed: %v", err)
		return ""
	}
	return s.objects.PresentableURL(s.assetsBucket, key)
}
