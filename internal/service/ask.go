package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/match9393/ContextForge/config"
	"github.com/match9393/ContextForge/internal/answer"
	"github.com/match9393/ContextForge/internal/retrieval"
	"github.com/match9393/ContextForge/internal/store"
)

var asksServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "contextforge_asks_served_total",
	Help: "Questions answered, by fallback mode.",
}, []string{"fallback_mode"})

// AskRequest is one question from an identified user.
type AskRequest struct {
	Question       string
	ConversationID string
	UserEmail      string
	UserFullName   string
}

type identityStore interface {
	EnsureUser(ctx context.Context, email, fullName string) (string, error)
	InsertAskHistory(ctx context.Context, rec store.AskHistoryRecord) (int64, error)
}

type retriever interface {
	Retrieve(ctx context.Context, question string) (retrieval.Result, error)
}

type contextAssembler interface {
	Assemble(ctx context.Context, evidence []retrieval.Evidence) retrieval.ContextBundle
}

type groundingClassifier interface {
	Classify(ctx context.Context, question, outcome string) retrieval.Judgment
}

type answerSynthesizer interface {
	Synthesize(ctx context.Context, question string, bundle retrieval.ContextBundle, judgment retrieval.Judgment) (answer.Answer, error)
}

// AskService orchestrates the full question pipeline: plan, retrieve,
// classify, synthesize, record.
type AskService struct {
	llm         config.LLMConfig
	store       identityStore
	retriever   retriever
	assembler   contextAssembler
	classifier  groundingClassifier
	synthesizer answerSynthesizer
	logger      *log.Logger
}

func NewAskService(llm config.LLMConfig, st identityStore, retriever retriever, assembler contextAssembler, classifier groundingClassifier, synthesizer answerSynthesizer, logger *log.Logger) *AskService {
	if logger == nil {
		logger = log.New(log.Writer(), "[ASK] ", log.LstdFlags)
	}
	return &AskService{
		llm:         llm,
		store:       st,
		retriever:   retriever,
		assembler:   assembler,
		classifier:  classifier,
		synthesizer: synthesizer,
		logger:      logger,
	}
}

// Ask answers one question. Past validation it always produces a
// structured result; a history write failure is logged and ignored.
func (s *AskService) Ask(ctx context.Context, req AskRequest) (answer.Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return answer.Answer{}, fmt.Errorf("question must not be empty")
	}
	email := strings.TrimSpace(strings.ToLower(req.UserEmail))
	if email == "" {
		return answer.Answer{}, fmt.Errorf("user email required")
	}

	userID, err := s.store.EnsureUser(ctx, email, req.UserFullName)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("ensure user: %w", err)
	}

	res, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		// Retrieval infrastructure failure degrades to an ungrounded
		// answer rather than a blank error.
		s.logger.Printf("warn: retrieval failed, continuing without context: %v", err)
		res = retrieval.Result{Outcome: retrieval.OutcomeNoContext}
	}

	judgment := s.classifier.Classify(ctx, question, res.Outcome)
	bundle := s.assembler.Assemble(ctx, res.Evidence)

	ans, err := s.synthesizer.Synthesize(ctx, question, bundle, judgment)
	if err != nil {
		return answer.Answer{}, err
	}
	asksServed.WithLabelValues(judgment.FallbackMode).Inc()

	s.recordHistory(ctx, userID, email, question, req.ConversationID, bundle, ans)
	return ans, nil
}

func (s *AskService) recordHistory(ctx context.Context, userID, email, question, conversationID string, bundle retrieval.ContextBundle, ans answer.Answer) {
	var (
		documents []store.DocumentUsed
		chunks    []int64
		images    []int64
	)
	seenDocs := map[int64]struct{}{}
	for _, row := range bundle.Rows {
		switch row.Modality {
		case retrieval.ModalityChunk:
			chunks = append(chunks, row.ID)
		case retrieval.ModalityCaption:
			images = append(images, row.ImageID)
		}
		if _, ok := seenDocs[row.DocumentID]; ok {
			continue
		}
		seenDocs[row.DocumentID] = struct{}{}
		documents = append(documents, store.DocumentUsed{
			DocumentID: row.DocumentID,
			SourceName: row.SourceName,
			SourceType: row.SourceType,
		})
	}

	rec := store.AskHistoryRecord{
		UserID:            userID,
		UserEmail:         email,
		Question:          question,
		Answer:            ans.Text,
		ConversationID:    conversationID,
		DocumentsUsed:     documents,
		ChunksUsed:        chunks,
		ImagesUsed:        images,
		WebpageLinks:      ans.WebpageLinks,
		ConfidencePercent: ans.ConfidencePercent,
		Grounded:          ans.Grounded,
		RetrievalOutcome:  ans.RetrievalOutcome,
		FallbackMode:      ans.FallbackMode,
		Evidence: map[string]any{
			"retrieved_chunk_count": len(chunks),
			"retrieval_outcome":     ans.RetrievalOutcome,
			"fallback_mode":         ans.FallbackMode,
			"answer_provider":       s.llm.Provider,
			"answer_model":          s.llm.AnswerModel,
		},
	}
	if _, err := s.store.InsertAskHistory(ctx, rec); err != nil {
		s.logger.Printf("warn: ask history write failed: %v", err)
	}
}
