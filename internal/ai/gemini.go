package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/nurture-engine/internal/pkg/httpretry"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider generates emails through the Gemini REST API.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	http    httpretry.HTTPDoer
}

// NewGeminiProvider creates a Gemini provider. The HTTP client retries
// transient failures; timeout bounds one attempt end to end.
func NewGeminiProvider(apiKey, model, baseURL string, timeout time.Duration) *GeminiProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpretry.New(&http.Client{Timeout: timeout}, 2),
	}
}

// Name implements Provider.
func (g *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GenerateEmail implements Provider.
func (g *GeminiProvider) GenerateEmail(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini api key missing: %w", ErrNotConfigured)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %v: %w", err, ErrProvider)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("gemini returned 429: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini returned %d: %s: %w", resp.StatusCode, apiErrorMessage(respBody), ErrProvider)
	}

	var out geminiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse gemini response: %v: %w", err, ErrProvider)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("gemini error %s: %s: %w", out.Error.Status, out.Error.Message, ErrProvider)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates: %w", ErrProvider)
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	subject, bodyHTML := parseEmail(text.String())
	return &GenerateResult{
		Subject:          subject,
		BodyHTML:         bodyHTML,
		BodyText:         htmlToText(bodyHTML),
		Model:            model,
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
		CostUSD:          estimateCost(model, out.UsageMetadata.PromptTokenCount, out.UsageMetadata.CandidatesTokenCount),
	}, nil
}

// Ping implements Provider. Fetching the configured model's metadata
// verifies both the key and the model name without spending tokens.
func (g *GeminiProvider) Ping(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini api key missing: %w", ErrNotConfigured)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call gemini: %v: %w", err, ErrProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini returned %d: %s: %w", resp.StatusCode, apiErrorMessage(body), ErrProvider)
	}
	return nil
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

// ListModels implements Provider. Only models that support generateContent
// are returned, with the "models/" prefix stripped.
func (g *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini api key missing: %w", ErrNotConfigured)
	}

	url := fmt.Sprintf("%s/v1beta/models?key=%s&pageSize=100", g.baseURL, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %v: %w", err, ErrProvider)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini returned %d: %s: %w", resp.StatusCode, apiErrorMessage(respBody), ErrProvider)
	}

	var list geminiModelList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("parse gemini model list: %v: %w", err, ErrProvider)
	}

	var models []string
	for _, m := range list.Models {
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				models = append(models, strings.TrimPrefix(m.Name, "models/"))
				break
			}
		}
	}
	return models, nil
}

// apiErrorMessage pulls the human-readable message out of an error body,
// falling back to a truncated raw body.
func apiErrorMessage(body []byte) string {
	var wrapped struct {
		Error *geminiError `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
