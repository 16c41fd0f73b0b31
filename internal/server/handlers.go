package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/match9393/ContextForge/internal/answer"
	"github.com/match9393/ContextForge/internal/crawl"
	"github.com/match9393/ContextForge/internal/ingest"
	"github.com/match9393/ContextForge/internal/service"
	"github.com/match9393/ContextForge/internal/store"
)

const (
	headerUserEmail = "X-User-Email"
	headerUserName  = "X-User-Name"
)

type ingestCoordinator interface {
	IngestPDF(ctx context.Context, filename string, data []byte, createdBy string) (store.DocumentRecord, error)
	IngestWeb(ctx context.Context, req ingest.WebIngestRequest) (store.DocumentRecord, bool, error)
	Reingest(ctx context.Context, documentID int64) (store.DocumentRecord, error)
	Delete(ctx context.Context, documentID int64) error
}

type linkCrawler interface {
	IngestSingle(ctx context.Context, linkID int64, createdBy string) (store.DocumentRecord, error)
	IngestBatch(ctx context.Context, sourceDocumentID int64, maxPages int, createdBy string) (crawl.BatchResult, error)
	ResetLink(ctx context.Context, linkID int64) error
}

type askService interface {
	Ask(ctx context.Context, req service.AskRequest) (answer.Answer, error)
}

type documentResponse struct {
	ID               int64     `json:"id"`
	DocsSetID        int64     `json:"docs_set_id"`
	SourceType       string    `json:"source_type"`
	SourceName       string    `json:"source_name"`
	SourceURL        string    `json:"source_url,omitempty"`
	ParentDocumentID int64     `json:"parent_document_id,omitempty"`
	Status           string    `json:"status"`
	PageCount        int       `json:"page_count"`
	TextChunkCount   int       `json:"text_chunk_count"`
	ImageCount       int       `json:"image_count"`
	Warnings         []string  `json:"warnings,omitempty"`
	Reused           bool      `json:"reused,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ingestWebRequest struct {
	URL         string `json:"url"`
	DocsSetID   int64  `json:"docs_set_id"`
	DocsSetName string `json:"docs_set_name"`
}

type ingestBatchRequest struct {
	SourceDocumentID int64 `json:"source_document_id"`
	MaxPages         int   `json:"max_pages"`
}

type askRequestBody struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

func newDocumentResponse(doc store.DocumentRecord, reused bool) documentResponse {
	return documentResponse{
		ID:               doc.ID,
		DocsSetID:        doc.DocsSetID,
		SourceType:       doc.SourceType,
		SourceName:       doc.SourceName,
		SourceURL:        doc.SourceURL,
		ParentDocumentID: doc.ParentDocumentID,
		Status:           doc.Status,
		PageCount:        doc.PageCount,
		TextChunkCount:   doc.TextChunkCount,
		ImageCount:       doc.ImageCount,
		Warnings:         doc.Warnings,
		Reused:           reused,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

// requireUserEmail reads the caller identity headers. Every API route
// is attributed to a user, so a missing email is a 401.
func requireUserEmail(c echo.Context) (email, fullName string, err error) {
	email = strings.TrimSpace(c.Request().Header.Get(headerUserEmail))
	if email == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, headerUserEmail+" header required")
	}
	fullName = strings.TrimSpace(c.Request().Header.Get(headerUserName))
	return email, fullName, nil
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// ingestError maps domain errors onto HTTP status codes.
func ingestError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrDocumentBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, crawl.ErrCrossDomain), errors.Is(err, crawl.ErrLinkProcessed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, crawl.ErrRobotsDisallowed):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// IngestHandler exposes document ingestion and link crawling.
type IngestHandler struct {
	Coordinator    ingestCoordinator
	Crawler        linkCrawler
	MaxUploadBytes int64
	Logger         *log.Logger
}

func (h *IngestHandler) Register(g *echo.Group) {
	g.POST("/ingest/pdf", h.ingestPDF)
	g.POST("/ingest/web", h.ingestWeb)
	g.POST("/ingest/links/:id", h.ingestLink)
	g.POST("/ingest/links/:id/reset", h.resetLink)
	g.POST("/ingest/links/batch", h.ingestBatch)
	g.POST("/documents/:id/reingest", h.reingest)
	g.DELETE("/documents/:id", h.deleteDocument)
}

func (h *IngestHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

func (h *IngestHandler) ingestPDF(c echo.Context) error {
	email, _, err := requireUserEmail(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' required")
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "uploaded file exceeds size limit")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file is empty")
	}
	filename := filepath.Base(fh.Filename)
	if filename == "" || filename == "." {
		filename = "upload.pdf"
	}

	doc, err := h.Coordinator.IngestPDF(c.Request().Context(), filename, data, email)
	if err != nil {
		var fatal *ingest.FatalError
		if errors.As(err, &fatal) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fatal.Reason)
		}
		return ingestError(err)
	}
	return c.JSON(http.StatusCreated, newDocumentResponse(doc, false))
}

func (h *IngestHandler) ingestWeb(c echo.Context) error {
	email, _, err := requireUserEmail(c)
	if err != nil {
		return err
	}
	var req ingestWebRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}

	doc, reused, err := h.Coordinator.IngestWeb(c.Request().Context(), ingest.WebIngestRequest{
		URL:         req.URL,
		DocsSetID:   req.DocsSetID,
		DocsSetName: req.DocsSetName,
		CreatedBy:   email,
	})
	if err != nil {
		var fatal *ingest.FatalError
		if errors.As(err, &fatal) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fatal.Reason)
		}
		return ingestError(err)
	}
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	return c.JSON(status, newDocumentResponse(doc, reused))
}

func (h *IngestHandler) ingestLink(c echo.Context) error {
	email, _, err := requireUserEmail(c)
	if err != nil {
		return err
	}
	linkID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	doc, err := h.Crawler.IngestSingle(c.Request().Context(), linkID, email)
	if err != nil {
		return ingestError(err)
	}
	return c.JSON(http.StatusCreated, newDocumentResponse(doc, false))
}

func (h *IngestHandler) resetLink(c echo.Context) error {
	if _, _, err := requireUserEmail(c); err != nil {
		return err
	}
	linkID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Crawler.ResetLink(c.Request().Context(), linkID); err != nil {
		return ingestError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "discovered"})
}

func (h *IngestHandler) ingestBatch(c echo.Context) error {
	email, _, err := requireUserEmail(c)
	if err != nil {
		return err
	}
	var req ingestBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SourceDocumentID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "source_document_id required")
	}
	res, err := h.Crawler.IngestBatch(c.Request().Context(), req.SourceDocumentID, req.MaxPages, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger().Printf("batch crawl of document %d: attempted=%d ingested=%d skipped=%d failed=%d",
		req.SourceDocumentID, res.Attempted, res.Ingested, res.Skipped, res.Failed)
	return c.JSON(http.StatusOK, res)
}

func (h *IngestHandler) reingest(c echo.Context) error {
	if _, _, err := requireUserEmail(c); err != nil {
		return err
	}
	docID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	doc, err := h.Coordinator.Reingest(c.Request().Context(), docID)
	if err != nil {
		var fatal *ingest.FatalError
		if errors.As(err, &fatal) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fatal.Reason)
		}
		return ingestError(err)
	}
	return c.JSON(http.StatusOK, newDocumentResponse(doc, false))
}

func (h *IngestHandler) deleteDocument(c echo.Context) error {
	if _, _, err := requireUserEmail(c); err != nil {
		return err
	}
	docID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Coordinator.Delete(c.Request().Context(), docID); err != nil {
		return ingestError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AskHandler exposes the question answering endpoint.
type AskHandler struct {
	Asks askService
}

func (h *AskHandler) Register(g *echo.Group) {
	g.POST("/ask", h.ask)
}

func (h *AskHandler) ask(c echo.Context) error {
	email, fullName, err := requireUserEmail(c)
	if err != nil {
		return err
	}
	var body askRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(body.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	ans, err := h.Asks.Ask(c.Request().Context(), service.AskRequest{
		Question:       body.Question,
		ConversationID: body.ConversationID,
		UserEmail:      email,
		UserFullName:   fullName,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ans)
}
