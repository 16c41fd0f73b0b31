package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// CommandRunner is the seam over external process execution, so tests
// can exercise the PDF path without poppler installed.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, truncateRunes(string(out), 300))
	}
	return out, nil
}

// PDFExtractor turns raw PDF bytes into per-page text and images.
type PDFExtractor interface {
	Extract(ctx context.Context, pdf []byte) (pages []string, images []ExtractedImage, err error)
}

// PopplerExtractor shells out to poppler's pdftotext and pdfimages.
type PopplerExtractor struct {
	Runner       CommandRunner
	PdfToTextBin string
	PdfImagesBin string
}

func NewPopplerExtractor(pdfToTextBin, pdfImagesBin string) *PopplerExtractor {
	return &PopplerExtractor{
		Runner:       ExecRunner{},
		PdfToTextBin: pdfToTextBin,
		PdfImagesBin: pdfImagesBin,
	}
}

func (e *PopplerExtractor) Extract(ctx context.Context, pdf []byte) ([]string, []ExtractedImage, error) {
	tmpDir, err := os.MkdirTemp("", "contextforge-pdf-")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return nil, nil, fmt.Errorf("write pdf: %w", err)
	}

	textPath := filepath.Join(tmpDir, "output.txt")
	if _, err := e.Runner.Run(ctx, e.PdfToTextBin, "-enc", "UTF-8", pdfPath, textPath); err != nil {
		return nil, nil, fmt.Errorf("extract text: %w", err)
	}
	raw, err := os.ReadFile(textPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read extracted text: %w", err)
	}
	// pdftotext separates pages with form feeds and ends with one.
	pages := strings.Split(strings.TrimSuffix(string(raw), "\f"), "\f")

	images, err := e.extractImages(ctx, pdfPath, tmpDir)
	if err != nil {
		// Text already extracted; image failures degrade to a text-only
		// ingest and are reported as warnings by the coordinator.
		return pages, nil, nil
	}
	return pages, images, nil
}

func (e *PopplerExtractor) extractImages(ctx context.Context, pdfPath, tmpDir string) ([]ExtractedImage, error) {
	prefix := filepath.Join(tmpDir, "img")
	if _, err := e.Runner.Run(ctx, e.PdfImagesBin, "-all", "-p", pdfPath, prefix); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(prefix + "-*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var images []ExtractedImage
	for _, path := range matches {
		page, index, ok := parseImageName(filepath.Base(path))
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}
		img := ExtractedImage{
			PageNumber: page,
			ImageIndex: index,
			MimeType:   mimeFromExtension(path),
			Data:       data,
		}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			img.Width = cfg.Width
			img.Height = cfg.Height
		}
		images = append(images, img)
	}
	return images, nil
}

// parseImageName splits pdfimages output names of the form
// img-<page>-<index>.<ext>.
func parseImageName(name string) (page, index int, ok bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return 0, 0, false
	}
	page, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, 0, false
	}
	index, err = strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, 0, false
	}
	return page, index, true
}

func decodeDimensions(data []byte) (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func mimeFromExtension(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
