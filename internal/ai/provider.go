// Package ai generates nurture emails through pluggable model providers:
// Gemini over REST and Claude via AWS Bedrock. Providers share one
// contract so the sequence service never knows which backend wrote the
// copy.
package ai

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"
)

var (
	// ErrNotConfigured means generation was requested before a provider,
	// API key, or model was set up.
	ErrNotConfigured = errors.New("ai provider not configured")

	// ErrRateLimited means the provider (or our own limiter) refused the
	// request for this window. Callers should surface 429, not retry
	// inline.
	ErrRateLimited = errors.New("ai rate limit exceeded")

	// ErrProvider wraps upstream failures: timeouts, non-200 responses,
	// malformed payloads.
	ErrProvider = errors.New("ai provider request failed")
)

// GenerateRequest carries everything a provider needs to write one email.
type GenerateRequest struct {
	Prompt      string
	Model       string // empty uses the provider's configured model
	Temperature float64
	MaxTokens   int
}

// GenerateResult is the parsed provider output plus usage metadata.
type GenerateResult struct {
	Subject          string
	BodyHTML         string
	BodyText         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Provider is one email generation backend.
type Provider interface {
	// Name identifies the backend (gemini, bedrock) for settings and logs.
	Name() string

	// GenerateEmail runs one generation and parses the model output into
	// subject and body.
	GenerateEmail(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Ping verifies credentials and reachability with a minimal request.
	Ping(ctx context.Context) error

	// ListModels returns the models this backend can generate with.
	ListModels(ctx context.Context) ([]string, error)
}

// estimateCost prices token usage in USD per 1M tokens by model family.
// Prices drift; the stored cost is an estimate for reporting, not billing.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	prompt, completion := 0.50, 1.50
	switch {
	case strings.Contains(model, "flash-lite"):
		prompt, completion = 0.075, 0.30
	case strings.Contains(model, "flash"):
		prompt, completion = 0.10, 0.40
	case strings.Contains(model, "1.5-pro"):
		prompt, completion = 1.25, 5.00
	case strings.Contains(model, "claude-3-5-sonnet"):
		prompt, completion = 3.00, 15.00
	case strings.Contains(model, "claude-3-haiku"):
		prompt, completion = 0.25, 1.25
	}
	return float64(promptTokens)/1e6*prompt + float64(completionTokens)/1e6*completion
}

var (
	codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\n(.*)\n```$")
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	blankRe     = regexp.MustCompile(`\n{3,}`)
)

// parseEmail splits raw model output into subject and HTML body. The
// prompts ask for a "Subject:" first line; when the model skips it the
// whole output becomes the body and the subject is left empty for the
// caller to fill.
func parseEmail(raw string) (subject, body string) {
	raw = strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}

	line, rest, found := strings.Cut(raw, "\n")
	if found {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "subject:") {
			subject = strings.TrimSpace(trimmed[len("subject:"):])
			return subject, strings.TrimSpace(rest)
		}
	}
	return "", raw
}

// htmlToText renders a plain-text fallback from an HTML body.
func htmlToText(s string) string {
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "<br />", "\n")
	s = strings.ReplaceAll(s, "</p>", "\n\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
