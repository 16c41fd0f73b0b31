package crawl

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/match9393/ContextForge/config"
	"github.com/match9393/ContextForge/internal/ingest"
	"github.com/match9393/ContextForge/internal/store"
)

// ErrCrossDomain rejects manual ingestion of links that left the source
// page's domain.
var ErrCrossDomain = errors.New("cross-domain links are not ingested")

// ErrLinkProcessed rejects re-ingesting a link that already ran, unless
// it is reset first.
var ErrLinkProcessed = errors.New("link already processed")

// ErrRobotsDisallowed marks links the target site's robots.txt forbids.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// Ingester is the slice of the ingestion coordinator the crawler needs.
type Ingester interface {
	IngestWeb(ctx context.Context, req ingest.WebIngestRequest) (store.DocumentRecord, bool, error)
}

type linkStore interface {
	GetDiscoveredLink(ctx context.Context, id int64) (store.DiscoveredLinkRecord, error)
	ListDiscoveredLinks(ctx context.Context, sourceDocumentID int64, limit int) ([]store.DiscoveredLinkRecord, error)
	MarkDiscoveredLink(ctx context.Context, linkID int64, status string, ingestedDocumentID int64, lastError string) error
	ResetDiscoveredLink(ctx context.Context, linkID int64) error
}

// RobotsPolicy answers whether a URL may be fetched. A nil policy
// allows everything.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// BatchResult is the accounting for one bounded batch ingest.
type BatchResult struct {
	Attempted int `json:"attempted"`
	Ingested  int `json:"ingested"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Manager turns discovered links into bounded same-domain ingestion
// batches.
type Manager struct {
	cfg      *config.Config
	links    linkStore
	ingester Ingester
	robots   RobotsPolicy
	logger   *log.Logger
}

func NewManager(cfg *config.Config, links linkStore, ingester Ingester, robots RobotsPolicy, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[CRAWL] ", log.LstdFlags)
	}
	return &Manager{cfg: cfg, links: links, ingester: ingester, robots: robots, logger: logger}
}

// IngestSingle ingests one discovered link as a child document of its
// source page and updates the link's status accordingly.
func (m *Manager) IngestSingle(ctx context.Context, linkID int64, createdBy string) (store.DocumentRecord, error) {
	link, err := m.links.GetDiscoveredLink(ctx, linkID)
	if err != nil {
		return store.DocumentRecord{}, err
	}
	if !link.SameDomain {
		return store.DocumentRecord{}, ErrCrossDomain
	}
	if link.Status != store.LinkStatusDiscovered {
		return store.DocumentRecord{}, fmt.Errorf("%w: status %s", ErrLinkProcessed, link.Status)
	}
	doc, err := m.ingestLink(ctx, link, createdBy)
	if errors.Is(err, errReused) {
		return doc, nil
	}
	return doc, err
}

// IngestBatch attempts up to maxPages currently discovered same-domain
// links of one source document, sequentially in discovery order. One
// link's failure never aborts the batch. A reused existing document
// counts as skipped.
func (m *Manager) IngestBatch(ctx context.Context, sourceDocumentID int64, maxPages int, createdBy string) (BatchResult, error) {
	bound := m.cfg.Crawl.MaxBatchPages
	if bound <= 0 || bound > 100 {
		bound = 100
	}
	if maxPages < 1 || maxPages > bound {
		return BatchResult{}, fmt.Errorf("max_pages must be between 1 and %d", bound)
	}

	links, err := m.links.ListDiscoveredLinks(ctx, sourceDocumentID, maxPages)
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, link := range links {
		res.Attempted++
		_, err := m.ingestLink(ctx, link, createdBy)
		switch {
		case errors.Is(err, ErrRobotsDisallowed):
			res.Skipped++
		case errors.Is(err, errReused):
			res.Skipped++
		case err != nil:
			res.Failed++
		default:
			res.Ingested++
		}
	}
	return res, nil
}

// ResetLink returns a failed link to discovered for explicit retry.
func (m *Manager) ResetLink(ctx context.Context, linkID int64) error {
	return m.links.ResetDiscoveredLink(ctx, linkID)
}

// errReused signals batch accounting that an existing document was
// reused instead of fetching the page again.
var errReused = errors.New("existing document reused")

func (m *Manager) ingestLink(ctx context.Context, link store.DiscoveredLinkRecord, createdBy string) (store.DocumentRecord, error) {
	if m.robots != nil && !m.robots.Allowed(ctx, link.URL) {
		if err := m.links.MarkDiscoveredLink(ctx, link.ID, store.LinkStatusSkipped, 0, ErrRobotsDisallowed.Error()); err != nil {
			m.logger.Printf("warn: mark link %d skipped: %v", link.ID, err)
		}
		return store.DocumentRecord{}, ErrRobotsDisallowed
	}

	doc, reused, err := m.ingester.IngestWeb(ctx, ingest.WebIngestRequest{
		URL:              link.URL,
		DocsSetID:        link.DocsSetID,
		ParentDocumentID: link.SourceDocumentID,
		CreatedBy:        createdBy,
	})
	if err != nil {
		if markErr := m.links.MarkDiscoveredLink(ctx, link.ID, store.LinkStatusFailed, 0, err.Error()); markErr != nil {
			m.logger.Printf("warn: mark link %d failed: %v", link.ID, markErr)
		}
		return store.DocumentRecord{}, err
	}

	if err := m.links.MarkDiscoveredLink(ctx, link.ID, store.LinkStatusIngested, doc.ID, ""); err != nil {
		m.logger.Printf("warn: mark link %d ingested: %v", link.ID, err)
	}
	if reused {
		return doc, errReused
	}
	return doc, nil
}
