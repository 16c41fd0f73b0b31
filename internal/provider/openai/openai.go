package openai_provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/match9393/ContextForge/internal/provider"
)

const (
	responsesURL  = "https://api.openai.com/v1/responses"
	embeddingsURL = "https://api.openai.com/v1/embeddings"
	imagesURL     = "https://api.openai.com/v1/images/generations"
)

// Client implements Generator, Embedder, Captioner and ImageGenerator
// against OpenAI's HTTP API.
type Client struct {
	apiKey         string
	embeddingModel string
	captionModel   string
	imageModel     string
	maxRetries     int
	retryBackoff   time.Duration
	httpClient     *http.Client
}

// NewClient creates a new OpenAI client.
func NewClient(apiKey, embeddingModel, captionModel, imageModel string, timeout time.Duration) *Client {
	return &Client{
		apiKey:         apiKey,
		embeddingModel: embeddingModel,
		captionModel:   captionModel,
		imageModel:     imageModel,
		maxRetries:     3,
		retryBackoff:   time.Second,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type responsesRequest struct {
	Model           string         `json:"model"`
	Input           []inputMessage `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
}

type responsesResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (r *responsesResponse) text() string {
	if direct := strings.TrimSpace(r.OutputText); direct != "" {
		return direct
	}
	var collected []string
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" && part.Text != "" {
				collected = append(collected, part.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(collected, "\n"))
}

// GenerateText produces a completion for a system/user prompt pair.
func (c *Client) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string, maxOutputTokens int) (string, error) {
	reqBody := responsesRequest{
		Model: model,
		Input: []inputMessage{
			{Role: "system", Content: []contentPart{{Type: "input_text", Text: systemPrompt}}},
			{Role: "user", Content: []contentPart{{Type: "input_text", Text: userPrompt}}},
		},
		MaxOutputTokens: maxOutputTokens,
	}

	var resp responsesResponse
	if err := c.postJSON(ctx, "generate_text", responsesURL, reqBody, &resp); err != nil {
		return "", err
	}
	text := resp.text()
	if text == "" {
		return "", &provider.Error{Kind: provider.KindUnavailable, Op: "generate_text", Message: "empty answer from model"}
	}
	return text, nil
}

// EmbedTexts generates embeddings for the given texts.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "embed_texts", embeddingsURL, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, &provider.Error{
			Kind:    provider.KindUnavailable,
			Op:      "embed_texts",
			Message: fmt.Sprintf("embedding count mismatch: expected %d got %d", len(texts), len(resp.Data)),
		}
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// CaptionImage describes a document image, truncated to maxChars.
func (c *Client) CaptionImage(ctx context.Context, imageBytes []byte, mimeType string, maxChars int) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageBytes))
	prompt := fmt.Sprintf(
		"Describe this document image for enterprise retrieval. "+
			"Include key entities, metrics, labels, and what the image shows. "+
			"Maximum %d characters.", maxChars)

	reqBody := responsesRequest{
		Model: c.captionModel,
		Input: []inputMessage{
			{Role: "user", Content: []contentPart{
				{Type: "input_text", Text: prompt},
				{Type: "input_image", ImageURL: dataURL},
			}},
		},
		MaxOutputTokens: 500,
	}

	var resp responsesResponse
	if err := c.postJSON(ctx, "caption_image", responsesURL, reqBody, &resp); err != nil {
		return "", err
	}
	text := resp.text()
	if text == "" {
		return "", &provider.Error{Kind: provider.KindUnavailable, Op: "caption_image", Message: "empty vision caption"}
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

// GenerateImage renders an image from a text prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt, size, quality string) ([]byte, error) {
	reqBody := map[string]interface{}{
		"model":   c.imageModel,
		"prompt":  prompt,
		"size":    size,
		"quality": quality,
	}

	var resp struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "generate_image", imagesURL, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &provider.Error{Kind: provider.KindUnavailable, Op: "generate_image", Message: "no image payload in response"}
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindUnavailable, Op: "generate_image", Message: "undecodable image payload", Err: err}
	}
	return raw, nil
}

// postJSON sends one API request, retrying transient failures.
func (c *Client) postJSON(ctx context.Context, op, url string, reqBody, out interface{}) error {
	if c.apiKey == "" {
		return &provider.Error{Kind: provider.KindAuth, Op: op, Message: "API key is not configured"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return &provider.Error{Kind: provider.KindBadRequest, Op: op, Message: "marshal request", Err: err}
	}

	var lastErr *provider.Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &provider.Error{Kind: provider.KindTimeout, Op: op, Message: "context cancelled", Err: ctx.Err()}
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			}
		}

		lastErr = c.doOnce(ctx, op, url, jsonData, out)
		if lastErr == nil {
			return nil
		}
		if !lastErr.Transient() {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, op, url string, jsonData []byte, out interface{}) *provider.Error {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return &provider.Error{Kind: provider.KindBadRequest, Op: op, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := provider.KindUnavailable
		if ctx.Err() != nil {
			kind = provider.KindTimeout
		}
		return &provider.Error{Kind: kind, Op: op, Message: "send request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.Error{Kind: provider.KindUnavailable, Op: op, Message: "read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &provider.Error{Kind: provider.KindUnavailable, Op: op, Message: "parse response", Err: err}
	}
	return nil
}

func statusError(op string, status int, body []byte) *provider.Error {
	detail := string(body)
	if len(detail) > 300 {
		detail = detail[:300]
	}
	msg := fmt.Sprintf("status %d: %s", status, detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &provider.Error{Kind: provider.KindAuth, Op: op, Message: msg}
	case status == http.StatusTooManyRequests:
		return &provider.Error{Kind: provider.KindRateLimited, Op: op, Message: msg}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &provider.Error{Kind: provider.KindTimeout, Op: op, Message: msg}
	case status >= 500:
		return &provider.Error{Kind: provider.KindUnavailable, Op: op, Message: msg}
	default:
		return &provider.Error{Kind: provider.KindBadRequest, Op: op, Message: msg}
	}
}
