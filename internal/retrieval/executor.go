package retrieval

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/match9393/ContextForge/config"
	"github.com/match9393/ContextForge/internal/index"
	"github.com/match9393/ContextForge/internal/store"
)

// Retrieval outcomes.
const (
	OutcomePrimary   = "primary_sufficient"
	OutcomeBroadened = "broadened_sufficient"
	OutcomeNoContext = "no_context"
)

// Evidence modalities.
const (
	ModalityChunk   = "chunk"
	ModalityCaption = "caption"
)

// Evidence is one merged retrieval hit across modalities.
type Evidence struct {
	Modality     string
	ID           int64
	ImageID      int64
	DocumentID   int64
	SourceName   string
	SourceType   string
	SourceURL    string
	StorageKey   string
	ChunkType    string
	Text         string
	Similarity   float64
	DocCreatedAt time.Time
}

// Result is the outcome of a full multi-pass retrieval.
type Result struct {
	Outcome   string
	Broadened bool
	Variants  []string
	Evidence  []Evidence
}

// Embedder embeds query variants.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type searchStore interface {
	SearchChunks(ctx context.Context, vector []float32, topK int) ([]store.ChunkSearchResult, error)
	SearchCaptions(ctx context.Context, vector []float32, topK int) ([]store.CaptionSearchResult, error)
	ChunksByIDs(ctx context.Context, ids []int64) ([]store.ChunkSearchResult, error)
	KeywordSearchChunks(ctx context.Context, tokens []string, limit int) ([]store.ChunkSearchResult, error)
}

type keywordIndex interface {
	Search(q string, limit int) ([]index.Hit, error)
}

// Executor runs the primary and, when evidence is thin, broadened
// retrieval passes.
type Executor struct {
	cfg      config.RetrievalConfig
	store    searchStore
	embedder Embedder
	planner  *Planner
	keywords keywordIndex
	logger   *log.Logger
}

func NewExecutor(cfg config.RetrievalConfig, st searchStore, embedder Embedder, planner *Planner, keywords keywordIndex, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Executor{cfg: cfg, store: st, embedder: embedder, planner: planner, keywords: keywords, logger: logger}
}

// Retrieve runs up to max_rounds passes. The primary pass embeds each
// variant and searches both modalities; when insufficient and a second
// round is allowed, the broadened pass re-plans with a larger budget,
// lowers the similarity bar and merges keyword matches in at a fixed
// score floor.
func (e *Executor) Retrieve(ctx context.Context, question string) (Result, error) {
	variants := e.planner.Plan(ctx, question, e.cfg.MaxVariants)

	merged := map[string]Evidence{}
	e.vectorPass(ctx, variants, merged)
	evidence := rank(merged)

	if sufficient(evidence, e.cfg.MinSimilarity, e.cfg.MinResults) {
		return Result{Outcome: OutcomePrimary, Variants: variants, Evidence: evidence}, nil
	}
	if e.cfg.MaxRounds < 2 {
		return Result{Outcome: OutcomeNoContext, Variants: variants}, nil
	}

	broadVariants := e.planner.Plan(ctx, question, e.cfg.BroadenedVariants)
	e.vectorPass(ctx, broadVariants, merged)
	e.keywordPass(ctx, question, merged)
	evidence = rank(merged)
	variants = broadVariants

	threshold := e.cfg.MinSimilarity * e.cfg.BroadenedFactor
	if sufficient(evidence, threshold, e.cfg.MinResults) {
		return Result{Outcome: OutcomeBroadened, Broadened: true, Variants: variants, Evidence: evidence}, nil
	}
	return Result{Outcome: OutcomeNoContext, Broadened: true, Variants: variants}, nil
}

func (e *Executor) vectorPass(ctx context.Context, variants []string, merged map[string]Evidence) {
	if e.embedder == nil {
		return
	}
	vectors, err := e.embedder.EmbedTexts(ctx, variants)
	if err != nil {
		e.logger.Printf("warn: variant embedding failed: %v", err)
		return
	}
	for _, vec := range vectors {
		chunks, err := e.store.SearchChunks(ctx, vec, e.cfg.TopK)
		if err != nil {
			e.logger.Printf("warn: chunk search: %v", err)
		}
		for _, hit := range chunks {
			mergeEvidence(merged, chunkEvidence(hit, 1-hit.Distance))
		}
		captions, err := e.store.SearchCaptions(ctx, vec, e.cfg.TopK)
		if err != nil {
			e.logger.Printf("warn: caption search: %v", err)
		}
		for _, hit := range captions {
			mergeEvidence(merged, Evidence{
				Modality:     ModalityCaption,
				ID:           hit.CaptionID,
				ImageID:      hit.ImageID,
				DocumentID:   hit.DocumentID,
				SourceName:   hit.SourceName,
				SourceType:   hit.SourceType,
				SourceURL:    hit.SourceURL,
				StorageKey:   hit.StorageKey,
				Text:         hit.CaptionText,
				Similarity:   1 - hit.Distance,
				DocCreatedAt: hit.DocCreatedAt,
			})
		}
	}
}

// keywordPass merges keyword hits at the configured score floor so they
// rank below strong vector hits. The bleve index is consulted first;
// the ILIKE fallback covers chunks indexed before the keyword index
// existed on disk.
func (e *Executor) keywordPass(ctx context.Context, question string, merged map[string]Evidence) {
	var rows []store.ChunkSearchResult

	if e.keywords != nil {
		hits, err := e.keywords.Search(keywordQuery(question), e.cfg.TopK)
		if err != nil {
			e.logger.Printf("warn: keyword index search: %v", err)
		}
		if len(hits) > 0 {
			ids := make([]int64, len(hits))
			for i, hit := range hits {
				ids[i] = hit.ChunkID
			}
			rows, err = e.store.ChunksByIDs(ctx, ids)
			if err != nil {
				e.logger.Printf("warn: hydrate keyword hits: %v", err)
			}
		}
	}

	if len(rows) == 0 {
		var err error
		rows, err = e.store.KeywordSearchChunks(ctx, Tokenize(question, true), e.cfg.TopK)
		if err != nil {
			e.logger.Printf("warn: keyword fallback search: %v", err)
		}
	}

	for _, hit := range rows {
		mergeEvidence(merged, chunkEvidence(hit, e.cfg.KeywordScoreFloor))
	}
}

func chunkEvidence(hit store.ChunkSearchResult, similarity float64) Evidence {
	return Evidence{
		Modality:     ModalityChunk,
		ID:           hit.ChunkID,
		DocumentID:   hit.DocumentID,
		SourceName:   hit.SourceName,
		SourceType:   hit.SourceType,
		SourceURL:    hit.SourceURL,
		ChunkType:    hit.ChunkType,
		Text:         hit.Text,
		Similarity:   similarity,
		DocCreatedAt: hit.DocCreatedAt,
	}
}

func mergeEvidence(merged map[string]Evidence, ev Evidence) {
	key := ev.Modality + ":" + strconv.FormatInt(ev.ID, 10)
	if existing, ok := merged[key]; ok && existing.Similarity >= ev.Similarity {
		return
	}
	merged[key] = ev
}

// rank orders by similarity descending, then newer document first, then
// lower row id, for deterministic output.
func rank(merged map[string]Evidence) []Evidence {
	out := make([]Evidence, 0, len(merged))
	for _, ev := range merged {
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if !out[i].DocCreatedAt.Equal(out[j].DocCreatedAt) {
			return out[i].DocCreatedAt.After(out[j].DocCreatedAt)
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Modality < out[j].Modality
	})
	return out
}

func sufficient(evidence []Evidence, minSimilarity float64, minResults int) bool {
	if len(evidence) < minResults || len(evidence) == 0 {
		return false
	}
	return evidence[0].Similarity >= minSimilarity
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// Tokenize extracts up to six lowercase search tokens from a question.
// Broadened passes admit shorter tokens.
func Tokenize(question string, broaden bool) []string {
	minLen := 4
	if broaden {
		minLen = 3
	}
	var tokens []string
	for _, token := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		if len(token) < minLen {
			continue
		}
		tokens = append(tokens, token)
		if len(tokens) == 6 {
			break
		}
	}
	return tokens
}

func keywordQuery(question string) string {
	return strings.Join(Tokenize(question, true), " ")
}
