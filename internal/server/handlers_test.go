package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/match9393/ContextForge/internal/answer"
	"github.com/match9393/ContextForge/internal/crawl"
	"github.com/match9393/ContextForge/internal/ingest"
	"github.com/match9393/ContextForge/internal/service"
	"github.com/match9393/ContextForge/internal/store"
)

type fakeCoordinator struct {
	pdfFilename string
	pdfData     []byte
	pdfBy       string
	webReq      ingest.WebIngestRequest
	webReused   bool
	reingested  int64
	deleted     int64
	err         error
}

func (f *fakeCoordinator) IngestPDF(_ context.Context, filename string, data []byte, createdBy string) (store.DocumentRecord, error) {
	f.pdfFilename = filename
	f.pdfData = data
	f.pdfBy = createdBy
	if f.err != nil {
		return store.DocumentRecord{}, f.err
	}
	return store.DocumentRecord{ID: 7, SourceType: "pdf", SourceName: filename, Status: store.DocStatusReady}, nil
}

func (f *fakeCoordinator) IngestWeb(_ context.Context, req ingest.WebIngestRequest) (store.DocumentRecord, bool, error) {
	f.webReq = req
	if f.err != nil {
		return store.DocumentRecord{}, false, f.err
	}
	return store.DocumentRecord{ID: 8, SourceType: "web", SourceURL: req.URL, Status: store.DocStatusReady}, f.webReused, nil
}

func (f *fakeCoordinator) Reingest(_ context.Context, documentID int64) (store.DocumentRecord, error) {
	f.reingested = documentID
	if f.err != nil {
		return store.DocumentRecord{}, f.err
	}
	return store.DocumentRecord{ID: documentID, Status: store.DocStatusReady}, nil
}

func (f *fakeCoordinator) Delete(_ context.Context, documentID int64) error {
	f.deleted = documentID
	return f.err
}

type fakeCrawler struct {
	singleID int64
	batchDoc int64
	batchMax int
	resetID  int64
	result   crawl.BatchResult
	err      error
}

func (f *fakeCrawler) IngestSingle(_ context.Context, linkID int64, _ string) (store.DocumentRecord, error) {
	f.singleID = linkID
	if f.err != nil {
		return store.DocumentRecord{}, f.err
	}
	return store.DocumentRecord{ID: 20, SourceType: "web", Status: store.DocStatusReady}, nil
}

func (f *fakeCrawler) IngestBatch(_ context.Context, sourceDocumentID int64, maxPages int, _ string) (crawl.BatchResult, error) {
	f.batchDoc = sourceDocumentID
	f.batchMax = maxPages
	return f.result, f.err
}

func (f *fakeCrawler) ResetLink(_ context.Context, linkID int64) error {
	f.resetID = linkID
	return f.err
}

type fakeAsks struct {
	req service.AskRequest
	ans answer.Answer
	err error
}

func (f *fakeAsks) Ask(_ context.Context, req service.AskRequest) (answer.Answer, error) {
	f.req = req
	return f.ans, f.err
}

func newJSONContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(headerUserEmail, "dev@example.com")
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func pdfUploadContext(t *testing.T, content string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "guide.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/pdf", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set(headerUserEmail, "Dev@Example.com")
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestIngestPDFUpload(t *testing.T) {
	coord := &fakeCoordinator{}
	h := &IngestHandler{Coordinator: coord, MaxUploadBytes: 1 << 20}
	ctx, rec := pdfUploadContext(t, "%PDF-1.4 fake")

	if err := h.ingestPDF(ctx); err != nil {
		t.Fatalf("ingestPDF: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if coord.pdfFilename != "guide.pdf" {
		t.Fatalf("unexpected filename %q", coord.pdfFilename)
	}
	if string(coord.pdfData) != "%PDF-1.4 fake" {
		t.Fatalf("upload bytes not forwarded")
	}
	if coord.pdfBy != "Dev@Example.com" {
		t.Fatalf("unexpected createdBy %q", coord.pdfBy)
	}
	var resp documentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != 7 || resp.Status != store.DocStatusReady {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestIngestPDFRequiresUserEmail(t *testing.T) {
	h := &IngestHandler{Coordinator: &fakeCoordinator{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/pdf", nil)
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)

	err := h.ingestPDF(ctx)
	if code := httpStatus(t, err); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestIngestPDFSizeLimit(t *testing.T) {
	h := &IngestHandler{Coordinator: &fakeCoordinator{}, MaxUploadBytes: 4}
	ctx, _ := pdfUploadContext(t, "four bytes plus more")

	err := h.ingestPDF(ctx)
	if code := httpStatus(t, err); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", code)
	}
}

func TestIngestPDFFatalErrorMapsTo422(t *testing.T) {
	coord := &fakeCoordinator{err: &ingest.FatalError{Reason: "no usable content extracted"}}
	h := &IngestHandler{Coordinator: coord, MaxUploadBytes: 1 << 20}
	ctx, _ := pdfUploadContext(t, "%PDF-1.4 fake")

	err := h.ingestPDF(ctx)
	if code := httpStatus(t, err); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
}

func TestIngestWeb(t *testing.T) {
	coord := &fakeCoordinator{}
	h := &IngestHandler{Coordinator: coord}
	ctx, rec := newJSONContext(t, http.MethodPost, "/api/v1/ingest/web",
		`{"url":"https://docs.example.com/guide","docs_set_name":"runbooks"}`)

	if err := h.ingestWeb(ctx); err != nil {
		t.Fatalf("ingestWeb: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if coord.webReq.URL != "https://docs.example.com/guide" {
		t.Fatalf("unexpected url %q", coord.webReq.URL)
	}
	if coord.webReq.DocsSetName != "runbooks" {
		t.Fatalf("unexpected docs set name %q", coord.webReq.DocsSetName)
	}
	if coord.webReq.CreatedBy != "dev@example.com" {
		t.Fatalf("unexpected createdBy %q", coord.webReq.CreatedBy)
	}
}

func TestIngestWebReusedReturns200(t *testing.T) {
	coord := &fakeCoordinator{webReused: true}
	h := &IngestHandler{Coordinator: coord}
	ctx, rec := newJSONContext(t, http.MethodPost, "/api/v1/ingest/web",
		`{"url":"https://docs.example.com/guide"}`)

	if err := h.ingestWeb(ctx); err != nil {
		t.Fatalf("ingestWeb: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for reused document, got %d", rec.Code)
	}
	var resp documentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Reused {
		t.Fatalf("expected reused flag in response")
	}
}

func TestIngestWebRequiresURL(t *testing.T) {
	h := &IngestHandler{Coordinator: &fakeCoordinator{}}
	ctx, _ := newJSONContext(t, http.MethodPost, "/api/v1/ingest/web", `{"url":"  "}`)

	err := h.ingestWeb(ctx)
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestIngestLinkConflictErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"cross domain", crawl.ErrCrossDomain, http.StatusConflict},
		{"already processed", crawl.ErrLinkProcessed, http.StatusConflict},
		{"robots", crawl.ErrRobotsDisallowed, http.StatusUnprocessableEntity},
		{"busy", ingest.ErrDocumentBusy, http.StatusConflict},
		{"missing", store.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &IngestHandler{Crawler: &fakeCrawler{err: tc.err}}
			ctx, _ := newJSONContext(t, http.MethodPost, "/api/v1/ingest/links/3", "")
			ctx.SetParamNames("id")
			ctx.SetParamValues("3")

			err := h.ingestLink(ctx)
			if code := httpStatus(t, err); code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, code)
			}
		})
	}
}

func TestIngestLink(t *testing.T) {
	cr := &fakeCrawler{}
	h := &IngestHandler{Crawler: cr}
	ctx, rec := newJSONContext(t, http.MethodPost, "/api/v1/ingest/links/41", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("41")

	if err := h.ingestLink(ctx); err != nil {
		t.Fatalf("ingestLink: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if cr.singleID != 41 {
		t.Fatalf("expected link 41, got %d", cr.singleID)
	}
}

func TestIngestLinkInvalidID(t *testing.T) {
	h := &IngestHandler{Crawler: &fakeCrawler{}}
	ctx, _ := newJSONContext(t, http.MethodPost, "/api/v1/ingest/links/abc", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("abc")

	err := h.ingestLink(ctx)
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestIngestBatch(t *testing.T) {
	cr := &fakeCrawler{result: crawl.BatchResult{Attempted: 3, Ingested: 2, Skipped: 1}}
	h := &IngestHandler{Crawler: cr}
	ctx, rec := newJSONContext(t, http.MethodPost, "/api/v1/ingest/links/batch",
		`{"source_document_id":9,"max_pages":5}`)

	if err := h.ingestBatch(ctx); err != nil {
		t.Fatalf("ingestBatch: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cr.batchDoc != 9 || cr.batchMax != 5 {
		t.Fatalf("unexpected batch args doc=%d max=%d", cr.batchDoc, cr.batchMax)
	}
	var res crawl.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Attempted != 3 || res.Ingested != 2 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestIngestBatchRequiresSourceDocument(t *testing.T) {
	h := &IngestHandler{Crawler: &fakeCrawler{}}
	ctx, _ := newJSONContext(t, http.MethodPost, "/api/v1/ingest/links/batch", `{"max_pages":5}`)

	err := h.ingestBatch(ctx)
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestResetLink(t *testing.T) {
	cr := &fakeCrawler{}
	h := &IngestHandler{Crawler: cr}
	ctx, rec := newJSONContext(t, http.MethodPost, "/api/v1/ingest/links/12/reset", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("12")

	if err := h.resetLink(ctx); err != nil {
		t.Fatalf("resetLink: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cr.resetID != 12 {
		t.Fatalf("expected link 12, got %d", cr.resetID)
	}
}

func TestReingestNotFound(t *testing.T) {
	h := &IngestHandler{Coordinator: &fakeCoordinator{err: store.ErrNotFound}}
	ctx, _ := newJSONContext(t, http.MethodPost, "/api/v1/documents/99/reingest", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("99")

	err := h.reingest(ctx)
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestDeleteDocument(t *testing.T) {
	coord := &fakeCoordinator{}
	h := &IngestHandler{Coordinator: coord}
	ctx, rec := newJSONContext(t, http.MethodDelete, "/api/v1/documents/14", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("14")

	if err := h.deleteDocument(ctx); err != nil {
		t.Fatalf("deleteDocument: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if coord.deleted != 14 {
		t.Fatalf("expected document 14, got %d", coord.deleted)
	}
}

func TestAsk(t *testing.T) {
	asks := &fakeAsks{ans: answer.Answer{Text: "Use the restart runbook.", ConfidencePercent: 82, Grounded: true}}
	h := &AskHandler{Asks: asks}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask",
		strings.NewReader(`{"question":"How do I restart the ingest worker?","conversation_id":"c-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(headerUserEmail, "dev@example.com")
	req.Header.Set(headerUserName, "Dev One")
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)

	if err := h.ask(ctx); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if asks.req.UserEmail != "dev@example.com" || asks.req.UserFullName != "Dev One" {
		t.Fatalf("identity not forwarded: %+v", asks.req)
	}
	if asks.req.ConversationID != "c-1" {
		t.Fatalf("conversation id not forwarded: %q", asks.req.ConversationID)
	}
	var ans answer.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &ans); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ans.Text != "Use the restart runbook." || ans.ConfidencePercent != 82 {
		t.Fatalf("unexpected answer %+v", ans)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	h := &AskHandler{Asks: &fakeAsks{}}
	ctx, _ := newJSONContext(t, http.MethodPost, "/api/v1/ask", `{"question":""}`)

	err := h.ask(ctx)
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestAskRequiresUserEmail(t *testing.T) {
	h := &AskHandler{Asks: &fakeAsks{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask",
		strings.NewReader(`{"question":"hello"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)

	err := h.ask(ctx)
	if code := httpStatus(t, err); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
