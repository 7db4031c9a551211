package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
)

// SettingsSource supplies the runtime AI configuration. Settings live in
// app_settings and can change between calls, so the writer re-reads them on
// every generation instead of caching a provider.
type SettingsSource interface {
	// AISettings returns the current provider configuration.
	AISettings(ctx context.Context) (domain.AISettings, error)

	// PromptTemplate returns the stored template override for a room, or ""
	// when the built-in default should be used.
	PromptTemplate(ctx context.Context, room domain.Room) (string, error)
}

// Writer turns prospect context into finished email copy: load settings,
// enforce the rate limit, render the prompt, call the configured provider.
// Bedrock is constructed once at startup (AWS config load is not free);
// Gemini is rebuilt per call so API-key changes take effect immediately.
type Writer struct {
	settings SettingsSource
	limiter  *RateLimiter
	prompts  *PromptBuilder

	geminiBaseURL string
	timeout       time.Duration
	bedrock       Provider
}

// WriterOptions carries the construction-time defaults that do not live in
// app_settings.
type WriterOptions struct {
	GeminiBaseURL string
	Timeout       time.Duration
	Bedrock       Provider // optional, nil when AWS is not configured
}

func NewWriter(settings SettingsSource, limiter *RateLimiter, opts WriterOptions) *Writer {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	return &Writer{
		settings:      settings,
		limiter:       limiter,
		prompts:       NewPromptBuilder(),
		geminiBaseURL: opts.GeminiBaseURL,
		timeout:       opts.Timeout,
		bedrock:       opts.Bedrock,
	}
}

// Provider builds the backend selected by the given settings. Exposed so the
// settings endpoints can ping or list models with unsaved configurations.
func (w *Writer) Provider(s domain.AISettings) (Provider, error) {
	switch s.Provider {
	case "", "gemini":
		if s.APIKey == "" {
			return nil, fmt.Errorf("gemini api key missing: %w", ErrNotConfigured)
		}
		return NewGeminiProvider(s.APIKey, s.Model, w.geminiBaseURL, w.timeout), nil
	case "bedrock":
		if w.bedrock == nil {
			return nil, fmt.Errorf("bedrock not configured: %w", ErrNotConfigured)
		}
		return w.bedrock, nil
	}
	return nil, fmt.Errorf("unknown ai provider %q: %w", s.Provider, ErrNotConfigured)
}

// RenderPrompt renders the (stored or default) template for the slot without
// calling the provider. A storage failure on the override lookup falls back
// to the default template rather than blocking generation.
func (w *Writer) RenderPrompt(ctx context.Context, pctx PromptContext) (string, error) {
	tmpl, err := w.settings.PromptTemplate(ctx, pctx.Room)
	if err != nil {
		log.Printf("[AI] prompt template lookup failed, using default: %v", err)
		tmpl = ""
	}
	return w.prompts.Build(tmpl, pctx)
}

// Write runs one full generation. Error classes callers can test with
// errors.Is: ErrNotConfigured, ErrRateLimited, ErrTemplateConfig,
// ErrProvider. Anything else is a settings-storage failure.
func (w *Writer) Write(ctx context.Context, pctx PromptContext) (*GenerateResult, error) {
	s, err := w.settings.AISettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ai settings: %w", err)
	}
	if !s.Enabled {
		return nil, fmt.Errorf("ai generation disabled: %w", ErrNotConfigured)
	}

	provider, err := w.Provider(s)
	if err != nil {
		return nil, err
	}

	if !w.limiter.Allow(ctx, provider.Name(), s.RateLimitPerMinute) {
		return nil, fmt.Errorf("%s: %w", provider.Name(), ErrRateLimited)
	}

	prompt, err := w.RenderPrompt(ctx, pctx)
	if err != nil {
		return nil, err
	}

	timeout := w.timeout
	if s.TimeoutSeconds > 0 {
		timeout = time.Duration(s.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := provider.GenerateEmail(ctx, &GenerateRequest{
		Prompt:      prompt,
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[AI] generated email via %s model=%s room=%s n=%d tokens=%d/%d",
		provider.Name(), res.Model, pctx.Room, pctx.EmailNumber, res.PromptTokens, res.CompletionTokens)
	return res, nil
}
