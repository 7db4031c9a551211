package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/nurture-engine/internal/domain"
)

type stubSettings struct {
	settings  domain.AISettings
	templates map[domain.Room]string
	err       error
}

func (s *stubSettings) AISettings(ctx context.Context) (domain.AISettings, error) {
	return s.settings, s.err
}

func (s *stubSettings) PromptTemplate(ctx context.Context, room domain.Room) (string, error) {
	return s.templates[room], nil
}

type stubProvider struct {
	lastReq *GenerateRequest
	result  *GenerateResult
	err     error
}

func (p *stubProvider) Name() string { return "bedrock" }

func (p *stubProvider) GenerateEmail(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *stubProvider) Ping(ctx context.Context) error { return nil }

func (p *stubProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func bedrockSettings() domain.AISettings {
	return domain.AISettings{
		Enabled:     true,
		Provider:    "bedrock",
		Model:       "claude-3-haiku",
		Temperature: 0.6,
		MaxTokens:   900,
	}
}

func TestWriterDisabled(t *testing.T) {
	w := NewWriter(&stubSettings{settings: domain.AISettings{Enabled: false}}, nil, WriterOptions{})

	_, err := w.Write(context.Background(), PromptContext{Room: domain.RoomProblem, EmailNumber: 1})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestWriterProviderSelection(t *testing.T) {
	w := NewWriter(&stubSettings{}, nil, WriterOptions{Bedrock: &stubProvider{}})

	if _, err := w.Provider(domain.AISettings{Provider: "gemini"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("gemini without key: want ErrNotConfigured, got %v", err)
	}
	p, err := w.Provider(domain.AISettings{Provider: "gemini", APIKey: "k"})
	if err != nil || p.Name() != "gemini" {
		t.Errorf("gemini with key: got %v, %v", p, err)
	}
	if p, err = w.Provider(domain.AISettings{Provider: "bedrock"}); err != nil || p.Name() != "bedrock" {
		t.Errorf("bedrock: got %v, %v", p, err)
	}
	if _, err = w.Provider(domain.AISettings{Provider: "watson"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unknown provider: want ErrNotConfigured, got %v", err)
	}

	bare := NewWriter(&stubSettings{}, nil, WriterOptions{})
	if _, err = bare.Provider(domain.AISettings{Provider: "bedrock"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("bedrock without construction: want ErrNotConfigured, got %v", err)
	}
}

func TestWriterWrite(t *testing.T) {
	provider := &stubProvider{result: &GenerateResult{Subject: "Hi", BodyHTML: "<p>Hi</p>", Model: "claude-3-haiku"}}
	w := NewWriter(&stubSettings{settings: bedrockSettings()}, nil, WriterOptions{Bedrock: provider})

	res, err := w.Write(context.Background(), PromptContext{
		ProspectName: "Dana",
		CompanyName:  "Acme",
		Room:         domain.RoomSolution,
		EmailNumber:  2,
		ContentURL:   "https://blog.example.com/post",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Subject != "Hi" {
		t.Errorf("subject = %q", res.Subject)
	}

	req := provider.lastReq
	if req == nil {
		t.Fatal("provider never called")
	}
	if req.Temperature != 0.6 || req.MaxTokens != 900 || req.Model != "claude-3-haiku" {
		t.Errorf("settings not forwarded: %+v", req)
	}
	for _, want := range []string{"Dana", "Acme", "email 2 of 5", "https://blog.example.com/post"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
}

func TestWriterTemplateOverride(t *testing.T) {
	provider := &stubProvider{result: &GenerateResult{}}
	settings := &stubSettings{
		settings:  bedrockSettings(),
		templates: map[domain.Room]string{domain.RoomProblem: "custom for {{ prospect_name }}"},
	}
	w := NewWriter(settings, nil, WriterOptions{Bedrock: provider})

	if _, err := w.Write(context.Background(), PromptContext{ProspectName: "Lee", Room: domain.RoomProblem, EmailNumber: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if provider.lastReq.Prompt != "custom for Lee" {
		t.Errorf("override not used, prompt = %q", provider.lastReq.Prompt)
	}
}

func TestWriterTemplateConfigError(t *testing.T) {
	settings := &stubSettings{
		settings:  bedrockSettings(),
		templates: map[domain.Room]string{domain.RoomProblem: "{% broken"},
	}
	w := NewWriter(settings, nil, WriterOptions{Bedrock: &stubProvider{}})

	_, err := w.Write(context.Background(), PromptContext{Room: domain.RoomProblem, EmailNumber: 1})
	if !errors.Is(err, ErrTemplateConfig) {
		t.Fatalf("want ErrTemplateConfig, got %v", err)
	}
}

func TestWriterRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := bedrockSettings()
	s.RateLimitPerMinute = 1
	provider := &stubProvider{result: &GenerateResult{}}
	w := NewWriter(&stubSettings{settings: s}, NewRateLimiter(rdb), WriterOptions{Bedrock: provider})

	if _, err := w.Write(context.Background(), PromptContext{Room: domain.RoomOffer, EmailNumber: 1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, err := w.Write(context.Background(), PromptContext{Room: domain.RoomOffer, EmailNumber: 1})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestWriterSettingsStorageError(t *testing.T) {
	w := NewWriter(&stubSettings{err: errors.New("db down")}, nil, WriterOptions{})

	_, err := w.Write(context.Background(), PromptContext{Room: domain.RoomProblem, EmailNumber: 1})
	if err == nil || errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want plain storage error, got %v", err)
	}
}

func TestWriterTimeoutFromSettings(t *testing.T) {
	s := bedrockSettings()
	s.TimeoutSeconds = 1
	provider := &stubProvider{err: context.DeadlineExceeded}
	w := NewWriter(&stubSettings{settings: s}, nil, WriterOptions{Bedrock: provider, Timeout: time.Minute})

	_, err := w.Write(context.Background(), PromptContext{Room: domain.RoomProblem, EmailNumber: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error passthrough, got %v", err)
	}
}
