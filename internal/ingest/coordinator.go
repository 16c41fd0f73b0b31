package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/match9393/ContextForge/config"
	"github.com/match9393/ContextForge/internal/helpers"
	"github.com/match9393/ContextForge/internal/index"
	"github.com/match9393/ContextForge/internal/storage"
	"github.com/match9393/ContextForge/internal/store"
	"github.com/match9393/ContextForge/internal/webfetch"
)

// ErrDocumentBusy is returned when another ingest, re-ingest or delete
// job currently holds the document lock.
var ErrDocumentBusy = errors.New("another job is already running for this document")

// FatalError marks an ingest that produced no usable content. The
// document is moved to the failed status with the reason stored.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return e.Reason }

// Embedder and Captioner are the capability slices the coordinator needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Captioner interface {
	CaptionImage(ctx context.Context, imageBytes []byte, mimeType string, maxChars int) (string, error)
}

// WebIngestRequest describes one web page to ingest. Grouping is by
// explicit docs set id, by name (created on first use) or implicit
// (a set named after the URL host).
type WebIngestRequest struct {
	URL              string
	DocsSetID        int64
	DocsSetName      string
	ParentDocumentID int64
	CreatedBy        string
}

// Coordinator runs the per-document ingestion state machine for PDF and
// web sources.
type Coordinator struct {
	cfg       *config.Config
	store     *store.Store
	objects   storage.ObjectStore
	keywords  *index.KeywordIndex
	embedder  Embedder
	captioner Captioner
	fetcher   webfetch.Fetcher
	pdf       PDFExtractor
	locks     Locker
	logger    *log.Logger
}

func NewCoordinator(cfg *config.Config, st *store.Store, objects storage.ObjectStore, keywords *index.KeywordIndex, embedder Embedder, captioner Captioner, fetcher webfetch.Fetcher, pdf PDFExtractor, locks Locker, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Coordinator{
		cfg:       cfg,
		store:     st,
		objects:   objects,
		keywords:  keywords,
		embedder:  embedder,
		captioner: captioner,
		fetcher:   fetcher,
		pdf:       pdf,
		locks:     locks,
		logger:    logger,
	}
}

// IngestPDF creates a document for the uploaded file and runs the full
// pipeline. The returned record reflects the final state.
func (c *Coordinator) IngestPDF(ctx context.Context, filename string, data []byte, createdBy string) (store.DocumentRecord, error) {
	if len(data) == 0 {
		return store.DocumentRecord{}, fmt.Errorf("empty pdf upload")
	}
	doc, err := c.store.CreateDocument(ctx, store.DocumentRecord{
		SourceType: "pdf",
		SourceName: filename,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return store.DocumentRecord{}, err
	}

	release, err := c.acquire(ctx, doc.ID)
	if err != nil {
		return doc, err
	}
	defer release()

	if err := c.runPDF(ctx, doc, data); err != nil {
		c.fail(ctx, doc, err)
		return c.refresh(ctx, doc)
	}
	documentsIngested.WithLabelValues("pdf", "ready").Inc()
	return c.refresh(ctx, doc)
}

// IngestWeb fetches and ingests one web page. When the same normalised
// URL already exists in the target docs set the existing document is
// returned with reused=true and nothing is fetched.
func (c *Coordinator) IngestWeb(ctx context.Context, req WebIngestRequest) (store.DocumentRecord, bool, error) {
	normalized, err := helpers.NormalizeURL(req.URL)
	if err != nil {
		return store.DocumentRecord{}, false, fmt.Errorf("invalid url: %w", err)
	}

	docsSetID, err := c.resolveDocsSet(ctx, req, normalized)
	if err != nil {
		return store.DocumentRecord{}, false, err
	}

	if existing, err := c.store.FindWebDocument(ctx, docsSetID, normalized); err == nil {
		if existing.Status == store.DocStatusReady {
			return existing, true, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.DocumentRecord{}, false, err
	}

	doc, err := c.store.CreateDocument(ctx, store.DocumentRecord{
		DocsSetID:           docsSetID,
		SourceType:          "web",
		SourceName:          req.URL,
		SourceURL:           req.URL,
		SourceURLNormalized: normalized,
		ParentDocumentID:    req.ParentDocumentID,
		CreatedBy:           req.CreatedBy,
	})
	if err != nil {
		return store.DocumentRecord{}, false, err
	}

	release, err := c.acquire(ctx, doc.ID)
	if err != nil {
		return doc, false, err
	}
	defer release()

	if err := c.runWeb(ctx, doc); err != nil {
		c.fail(ctx, doc, err)
		refreshed, rerr := c.refresh(ctx, doc)
		if rerr != nil {
			return doc, false, err
		}
		return refreshed, false, err
	}
	documentsIngested.WithLabelValues("web", "ready").Inc()
	refreshed, err := c.refresh(ctx, doc)
	return refreshed, false, err
}

// Reingest discards all derived rows for a document and re-runs the
// pipeline from the stored snapshot (PDF) or a fresh fetch (web).
// Discovered-link history is preserved.
func (c *Coordinator) Reingest(ctx context.Context, documentID int64) (store.DocumentRecord, error) {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.DocumentRecord{}, err
	}

	release, err := c.acquire(ctx, doc.ID)
	if err != nil {
		return doc, err
	}
	defer release()

	if err := c.store.PurgeDerived(ctx, doc.ID); err != nil {
		return doc, err
	}
	if err := c.keywords.RemoveDocument(doc.ID); err != nil {
		c.logger.Printf("warn: keyword index cleanup for document %d: %v", doc.ID, err)
	}

	switch doc.SourceType {
	case "pdf":
		data, err := c.objects.Download(ctx, c.cfg.Storage.S3.DocumentsBucket, doc.StorageKey)
		if err != nil {
			err = fmt.Errorf("download stored pdf: %w", err)
			c.fail(ctx, doc, err)
			return c.refresh(ctx, doc)
		}
		err = c.runPDF(ctx, doc, data)
		if err != nil {
			c.fail(ctx, doc, err)
			return c.refresh(ctx, doc)
		}
	case "web":
		if err := c.runWeb(ctx, doc); err != nil {
			c.fail(ctx, doc, err)
			return c.refresh(ctx, doc)
		}
	default:
		return doc, fmt.Errorf("unknown source type %q", doc.SourceType)
	}
	documentsIngested.WithLabelValues(doc.SourceType, "reingested").Inc()
	return c.refresh(ctx, doc)
}

// Delete hard-deletes a document, its derived rows, its keyword index
// entries and its storage assets.
func (c *Coordinator) Delete(ctx context.Context, documentID int64) error {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	release, err := c.acquire(ctx, doc.ID)
	if err != nil {
		return err
	}
	defer release()

	if err := c.keywords.RemoveDocument(doc.ID); err != nil {
		c.logger.Printf("warn: keyword index cleanup for document %d: %v", doc.ID, err)
	}
	prefix := fmt.Sprintf("documents/%d/", doc.ID)
	if err := c.objects.RemovePrefix(ctx, c.cfg.Storage.S3.DocumentsBucket, prefix); err != nil {
		c.logger.Printf("warn: storage cleanup for document %d: %v", doc.ID, err)
	}
	if err := c.objects.RemovePrefix(ctx, c.cfg.Storage.S3.AssetsBucket, prefix); err != nil {
		c.logger.Printf("warn: asset cleanup for document %d: %v", doc.ID, err)
	}
	return c.store.DeleteDocument(ctx, doc.ID)
}

func (c *Coordinator) acquire(ctx context.Context, documentID int64) (func(), error) {
	key := lockKey(documentID)
	ok, err := c.locks.Acquire(ctx, key, c.cfg.Ingest.LockLease)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDocumentBusy
	}
	return func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), key); err != nil {
			c.logger.Printf("warn: release lock %s: %v", key, err)
		}
	}, nil
}

func (c *Coordinator) fail(ctx context.Context, doc store.DocumentRecord, cause error) {
	documentsIngested.WithLabelValues(doc.SourceType, "failed").Inc()
	c.logger.Printf("document %d failed: %v", doc.ID, cause)
	if err := c.store.MarkDocumentFailed(context.WithoutCancel(ctx), doc.ID, cause.Error()); err != nil {
		c.logger.Printf("warn: mark document %d failed: %v", doc.ID, err)
	}
}

func (c *Coordinator) refresh(ctx context.Context, doc store.DocumentRecord) (store.DocumentRecord, error) {
	refreshed, err := c.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return doc, err
	}
	return refreshed, nil
}

func (c *Coordinator) runPDF(ctx context.Context, doc store.DocumentRecord, data []byte) error {
	if err := c.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusExtracting); err != nil {
		return err
	}

	storageKey := fmt.Sprintf("documents/%d/source.pdf", doc.ID)
	if err := c.uploadSnapshot(ctx, storageKey, data, "application/pdf"); err != nil {
		return err
	}

	pages, images, err := c.pdf.Extract(ctx, data)
	if err != nil {
		return &FatalError{Reason: fmt.Sprintf("pdf extraction failed: %v", err)}
	}

	var entries []ChunkEntry
	for i, page := range pages {
		for _, chunk := range ChunkText(page, c.cfg.Ingest.ChunkSizeChars, c.cfg.Ingest.ChunkOverlapChars) {
			entries = append(entries, ChunkEntry{
				Text:      chunk,
				ChunkType: store.ChunkTypeText,
				PageStart: i + 1,
				PageEnd:   i + 1,
			})
		}
	}

	return c.persist(ctx, doc, storageKey, len(pages), entries, images, nil)
}

func (c *Coordinator) runWeb(ctx context.Context, doc store.DocumentRecord) error {
	if err := c.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusExtracting); err != nil {
		return err
	}

	res, err := c.fetcher.Fetch(ctx, doc.SourceURL, "text/html", c.cfg.Crawl.MaxFetchBytes)
	if err != nil {
		return &FatalError{Reason: fmt.Sprintf("fetch failed: %v", err)}
	}

	storageKey := fmt.Sprintf("documents/%d/source.html", doc.ID)
	if err := c.uploadSnapshot(ctx, storageKey, res.Body, res.ContentType); err != nil {
		return err
	}

	extraction, err := extractWebContent(res.Body, res.ContentType, doc.SourceURL)
	if err != nil {
		return &FatalError{Reason: fmt.Sprintf("extraction failed: %v", err)}
	}
	if extraction.Title != "" && doc.SourceName == doc.SourceURL {
		doc.SourceName = extraction.Title
		if err := c.store.UpdateDocumentSourceName(ctx, doc.ID, extraction.Title); err != nil {
			c.logger.Printf("warn: update document %d name: %v", doc.ID, err)
		}
	}

	c.recordLinks(ctx, doc, extraction.Links)

	var warnings []string
	images, fetchWarnings := c.fetchPageImages(ctx, extraction.ImageURLs)
	warnings = append(warnings, fetchWarnings...)

	entries := make([]ChunkEntry, 0)
	for _, chunk := range ChunkText(extraction.Text, c.cfg.Ingest.ChunkSizeChars, c.cfg.Ingest.ChunkOverlapChars) {
		entries = append(entries, ChunkEntry{Text: chunk, ChunkType: store.ChunkTypeText})
	}
	entries = append(entries, tableChunkEntries(extraction.Tables)...)

	return c.persist(ctx, doc, storageKey, 1, entries, images, warnings)
}

// persist runs chunk capping, embedding, image handling and finalises
// the document. Shared by the PDF and web paths.
func (c *Coordinator) persist(ctx context.Context, doc store.DocumentRecord, storageKey string, pageCount int, entries []ChunkEntry, images []ExtractedImage, warnings []string) error {
	if len(entries) == 0 && len(images) == 0 {
		return &FatalError{Reason: "no usable content extracted"}
	}

	if err := c.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusChunking); err != nil {
		return err
	}
	capped, truncated := capEntries(entries, c.cfg.Ingest.MaxChunks)
	if truncated {
		warnings = append(warnings, fmt.Sprintf("chunk cap reached: kept %d of %d chunks", len(capped), len(entries)))
	}
	entries = capped

	if err := c.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusEmbedding); err != nil {
		return err
	}
	vectors, embedWarnings := c.embedEntries(ctx, entries)
	warnings = append(warnings, embedWarnings...)

	records := make([]store.TextChunkRecord, len(entries))
	for i, e := range entries {
		records[i] = store.TextChunkRecord{
			DocumentID: doc.ID,
			PageStart:  e.PageStart,
			PageEnd:    e.PageEnd,
			ChunkType:  e.ChunkType,
			ChunkMeta:  e.Meta,
			Text:       e.Text,
			Vector:     vectors[i],
		}
	}
	chunkIDs, err := c.store.InsertTextChunks(ctx, doc.ID, records)
	if err != nil {
		return err
	}
	for i, id := range chunkIDs {
		if err := c.keywords.IndexChunk(id, doc.ID, entries[i].ChunkType, entries[i].Text); err != nil {
			c.logger.Printf("warn: keyword index chunk %d: %v", id, err)
		}
	}

	imageCount, captionWarnings := c.persistImages(ctx, doc, images)
	warnings = append(warnings, captionWarnings...)

	return c.store.FinalizeDocument(ctx, doc.ID, storageKey, pageCount, len(entries), imageCount, warnings)
}

// embedEntries embeds entry texts in batches on a bounded worker pool.
// A batch that still fails after the provider's own retries leaves its
// vectors nil and contributes a warning instead of aborting the ingest.
func (c *Coordinator) embedEntries(ctx context.Context, entries []ChunkEntry) ([][]float32, []string) {
	vectors := make([][]float32, len(entries))
	if len(entries) == 0 || c.embedder == nil {
		return vectors, nil
	}

	batchSize := c.cfg.Ingest.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	type failure struct {
		start, count int
	}
	failures := make(chan failure, (len(entries)/batchSize)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Ingest.EmbedWorkers)
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		start, end := start, end
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = entries[i].Text
			}
			vecs, err := c.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				failures <- failure{start: start, count: end - start}
				c.logger.Printf("warn: embed batch [%d,%d): %v", start, end, err)
				return nil
			}
			for i, vec := range vecs {
				vectors[start+i] = vec
			}
			chunksEmbedded.Add(float64(len(vecs)))
			return nil
		})
	}
	_ = g.Wait()
	close(failures)

	var warnings []string
	skipped := 0
	for f := range failures {
		skipped += f.count
	}
	if skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("embedding skipped for %d chunks", skipped))
	}
	return vectors, warnings
}

func imageRecord(documentID int64, img ExtractedImage, storageKey string) store.DocumentImageRecord {
	return store.DocumentImageRecord{
		DocumentID: documentID,
		PageNumber: img.PageNumber,
		ImageIndex: img.ImageIndex,
		SourceURL:  img.SourceURL,
		StorageKey: storageKey,
		MimeType:   img.MimeType,
		FileBytes:  int64(len(img.Data)),
		Width:      img.Width,
		Height:     img.Height,
	}
}

// persistImages stores every extracted image and captions the selected
// eligible subset. Caption failures become warnings, never errors.
func (c *Coordinator) persistImages(ctx context.Context, doc store.DocumentRecord, images []ExtractedImage) (int, []string) {
	if len(images) == 0 {
		return 0, nil
	}

	var warnings []string
	imageIDs := make([]int64, len(images))
	stored := 0
	for i, img := range images {
		key := fmt.Sprintf("documents/%d/images/p%03d-i%03d%s", doc.ID, img.PageNumber, img.ImageIndex, extensionFor(img.MimeType))
		if err := c.objects.Upload(ctx, c.cfg.Storage.S3.AssetsBucket, key, img.Data, img.MimeType); err != nil {
			warnings = append(warnings, fmt.Sprintf("image upload failed (page %d index %d): %v", img.PageNumber, img.ImageIndex, err))
			imageIDs[i] = -1
			continue
		}
		id, err := c.store.InsertDocumentImage(ctx, imageRecord(doc.ID, img, key))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("image insert failed (page %d index %d): %v", img.PageNumber, img.ImageIndex, err))
			imageIDs[i] = -1
			continue
		}
		imageIDs[i] = id
		stored++
	}

	if !c.cfg.Ingest.CaptioningEnabled || c.captioner == nil {
		return stored, warnings
	}

	selected := selectForCaptioning(c.cfg.Ingest.Image, images, c.cfg.Ingest.MaxVisionImages)
	if len(selected) == 0 {
		return stored, warnings
	}
	if err := c.store.SetDocumentStatus(ctx, doc.ID, store.DocStatusCaptioning); err != nil {
		warnings = append(warnings, fmt.Sprintf("status update failed: %v", err))
		return stored, warnings
	}

	for _, idx := range selected {
		if imageIDs[idx] < 0 {
			continue
		}
		img := images[idx]
		caption, err := c.captioner.CaptionImage(ctx, img.Data, img.MimeType, c.cfg.Ingest.CaptionMaxChars)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("caption failed (page %d index %d): %v", img.PageNumber, img.ImageIndex, err))
			continue
		}
		caption = strings.TrimSpace(caption)
		if caption == "" {
			continue
		}
		var vector []float32
		if vecs, err := c.embedder.EmbedTexts(ctx, []string{caption}); err == nil && len(vecs) == 1 {
			vector = vecs[0]
		} else if err != nil {
			warnings = append(warnings, fmt.Sprintf("caption embedding failed (image %d): %v", imageIDs[idx], err))
		}
		if _, err := c.store.InsertImageCaption(ctx, store.ImageCaptionRecord{
			ImageID:     imageIDs[idx],
			CaptionText: caption,
			Vector:      vector,
			Provider:    c.cfg.LLM.Provider,
			Model:       c.cfg.LLM.VisionModel,
		}); err != nil {
			warnings = append(warnings, fmt.Sprintf("caption insert failed (image %d): %v", imageIDs[idx], err))
			continue
		}
		captionsCreated.Inc()
	}
	return stored, warnings
}

func (c *Coordinator) recordLinks(ctx context.Context, doc store.DocumentRecord, links []DiscoveredLink) {
	for _, link := range links {
		status := store.LinkStatusDiscovered
		if !link.SameDomain {
			// Cross-domain links are recorded but never auto-queued.
			status = store.LinkStatusSkipped
		}
		err := c.store.UpsertDiscoveredLink(ctx, store.DiscoveredLinkRecord{
			SourceDocumentID: doc.ID,
			DocsSetID:        doc.DocsSetID,
			URL:              link.URL,
			NormalizedURL:    link.NormalizedURL,
			LinkText:         link.Text,
			SameDomain:       link.SameDomain,
			Status:           status,
		})
		if err != nil {
			c.logger.Printf("warn: record link %s: %v", link.NormalizedURL, err)
		}
	}
}

const maxWebImageFetches = 32

// fetchPageImages downloads page images up to a fixed bound. Fetch
// failures are aggregated into a single warning.
func (c *Coordinator) fetchPageImages(ctx context.Context, urls []string) ([]ExtractedImage, []string) {
	var images []ExtractedImage
	failed := 0
	for i, imgURL := range urls {
		if i >= maxWebImageFetches {
			break
		}
		res, err := c.fetcher.Fetch(ctx, imgURL, "image/*", c.cfg.Crawl.MaxFetchBytes)
		if err != nil {
			failed++
			continue
		}
		img := ExtractedImage{
			PageNumber: 1,
			ImageIndex: len(images) + 1,
			SourceURL:  imgURL,
			MimeType:   res.ContentType,
			Data:       res.Body,
		}
		if img.MimeType == "" {
			img.MimeType = "application/octet-stream"
		}
		if w, h, ok := decodeDimensions(res.Body); ok {
			img.Width = w
			img.Height = h
		}
		images = append(images, img)
	}
	if failed > 0 {
		return images, []string{fmt.Sprintf("%d page images could not be fetched", failed)}
	}
	return images, nil
}

func (c *Coordinator) resolveDocsSet(ctx context.Context, req WebIngestRequest, normalizedURL string) (int64, error) {
	if req.DocsSetID > 0 {
		set, err := c.store.GetDocsSet(ctx, req.DocsSetID)
		if err != nil {
			return 0, fmt.Errorf("docs set %d: %w", req.DocsSetID, err)
		}
		return set.ID, nil
	}

	name := strings.TrimSpace(req.DocsSetName)
	if name == "" {
		name = helpers.HostOf(normalizedURL)
	}
	if set, err := c.store.FindDocsSetByName(ctx, name); err == nil {
		return set.ID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	created, err := c.store.CreateDocsSet(ctx, store.DocsSetRecord{
		Name:       name,
		SourceType: "web",
		RootURL:    normalizedURL,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func (c *Coordinator) uploadSnapshot(ctx context.Context, key string, data []byte, contentType string) error {
	bucket := c.cfg.Storage.S3.DocumentsBucket
	if err := c.objects.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	if err := c.objects.Upload(ctx, bucket, key, data, contentType); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}

func extensionFor(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	exts, err := mime.ExtensionsByType(strings.TrimSpace(mimeType))
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
