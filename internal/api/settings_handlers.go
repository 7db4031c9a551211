package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/nurture-engine/internal/ai"
	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/pkg/httputil"
)

// GetAIConfig returns the runtime AI settings with the API key redacted.
//
//	GET /api/v1/settings/ai-config
func (h *Handlers) GetAIConfig(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.AISettings(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.OK(w, s.Redacted())
}

// UpdateAIConfig stores new runtime AI settings. A missing or redacted API
// key in the payload keeps the stored key, so the UI can round-trip the
// config it fetched without ever seeing the real secret.
//
//	PUT /api/v1/settings/ai-config
func (h *Handlers) UpdateAIConfig(w http.ResponseWriter, r *http.Request) {
	var in domain.AISettings
	if !httputil.Decode(w, r, &in) {
		return
	}

	switch in.Provider {
	case "", "gemini", "bedrock":
	default:
		httputil.BadRequest(w, "provider must be gemini or bedrock")
		return
	}
	if in.Temperature < 0 || in.Temperature > 2 {
		httputil.BadRequest(w, "temperature must be between 0 and 2")
		return
	}
	if in.MaxTokens < 0 || in.RateLimitPerMinute < 0 || in.TimeoutSeconds < 0 {
		httputil.BadRequest(w, "max_tokens, rate_limit_per_minute and timeout_seconds must not be negative")
		return
	}

	if in.APIKey == "" || strings.HasPrefix(in.APIKey, "****") {
		stored, err := h.settings.AISettings(r.Context())
		if err != nil {
			respondSafeError(w, http.StatusInternalServerError, err)
			return
		}
		in.APIKey = stored.APIKey
	}

	if err := h.settings.SaveAISettings(r.Context(), in); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	httputil.OK(w, in.Redacted())
}

// TestAI pings the AI provider. The body may carry unsaved settings to
// test; absent fields fall back to what is stored, and a redacted key means
// "use the stored one".
//
//	POST /api/v1/settings/test-ai
func (h *Handlers) TestAI(w http.ResponseWriter, r *http.Request) {
	stored, err := h.settings.AISettings(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	s := stored
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if s.APIKey == "" || strings.HasPrefix(s.APIKey, "****") {
		s.APIKey = stored.APIKey
	}

	provider, err := h.writer.Provider(s)
	if err != nil {
		httputil.BadRequest(w, scrubSecrets(err.Error()))
		return
	}

	if err := provider.Ping(r.Context()); err != nil {
		if errors.Is(err, ai.ErrRateLimited) {
			httputil.TooManyRequests(w, err.Error())
			return
		}
		httputil.BadGateway(w, scrubSecrets(err.Error()))
		return
	}

	httputil.OK(w, map[string]interface{}{
		"status":   "ok",
		"provider": provider.Name(),
		"model":    s.Model,
	})
}

// ListGeminiModels returns the model names the configured Gemini key can
// use, regardless of which provider is currently active.
//
//	GET /api/v1/settings/gemini-models
func (h *Handlers) ListGeminiModels(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.AISettings(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Provider = "gemini"

	provider, err := h.writer.Provider(s)
	if err != nil {
		httputil.BadRequest(w, scrubSecrets(err.Error()))
		return
	}

	models, err := provider.ListModels(r.Context())
	if err != nil {
		if errors.Is(err, ai.ErrRateLimited) {
			httputil.TooManyRequests(w, err.Error())
			return
		}
		httputil.BadGateway(w, scrubSecrets(err.Error()))
		return
	}

	httputil.OK(w, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

type testPromptRequest struct {
	Room         string `json:"room_type"`
	EmailNumber  int    `json:"email_number"`
	ProspectName string `json:"prospect_name"`
	CompanyName  string `json:"company_name"`
	Industry     string `json:"industry"`
	Title        string `json:"title"`
	ClientName   string `json:"client_name"`
	ContentURL   string `json:"content_url"`
}

// TestPrompt renders the prompt template for a room with sample data, so an
// operator can see what the AI will be asked before committing a template
// override.
//
//	POST /api/v1/settings/test-prompt
func (h *Handlers) TestPrompt(w http.ResponseWriter, r *http.Request) {
	var req testPromptRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	room, err := domain.ParseRoom(req.Room)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !room.IsSequenceRoom() {
		httputil.BadRequest(w, "room "+req.Room+" has no email sequence")
		return
	}
	if req.EmailNumber < 1 || req.EmailNumber > domain.EmailsPerRoom {
		req.EmailNumber = 1
	}

	pctx := ai.PromptContext{
		ProspectName: defaultString(req.ProspectName, "Jane Doe"),
		CompanyName:  defaultString(req.CompanyName, "Acme Inc"),
		Industry:     defaultString(req.Industry, "Software"),
		Title:        defaultString(req.Title, "VP Marketing"),
		ClientName:   defaultString(req.ClientName, "Your Company"),
		Room:         room,
		EmailNumber:  req.EmailNumber,
		ContentURL:   req.ContentURL,
	}

	prompt, err := h.writer.RenderPrompt(r.Context(), pctx)
	if err != nil {
		if errors.Is(err, ai.ErrTemplateConfig) {
			httputil.ErrorCode(w, http.StatusInternalServerError, "template_config", scrubSecrets(err.Error()))
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"room":         room,
		"email_number": req.EmailNumber,
		"prompt":       prompt,
	})
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
