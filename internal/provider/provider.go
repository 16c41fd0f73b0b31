package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider failure so callers can decide whether to retry.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindBadRequest  Kind = "bad_request"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
)

// Error is the failure type returned by every provider implementation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider: %s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	return fmt.Sprintf("provider: %s failed (%s)", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient()
}

// Generator produces a text completion for a system/user prompt pair.
type Generator interface {
	GenerateText(ctx context.Context, model, systemPrompt, userPrompt string, maxOutputTokens int) (string, error)
}

// Embedder turns text into fixed-dimension vectors. The returned slice
// is index-aligned with the input.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Captioner describes a document image for retrieval.
type Captioner interface {
	CaptionImage(ctx context.Context, imageBytes []byte, mimeType string, maxChars int) (string, error)
}

// ImageGenerator renders an image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size, quality string) ([]byte, error)
}
