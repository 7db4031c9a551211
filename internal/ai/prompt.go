package ai

import (
	"errors"
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/nurture-engine/internal/domain"
)

// ErrTemplateConfig means a prompt template is missing or does not parse.
// Admin-supplied templates are config, so this maps to the configuration
// error class rather than a provider failure.
var ErrTemplateConfig = errors.New("prompt template invalid")

// defaultTemplates are the built-in per-room prompts, used when a client
// has not stored an override. Each stage has its own voice: problem emails
// educate, solution emails connect the pain to an approach, offer emails
// ask for the meeting.
var defaultTemplates = map[domain.Room]string{
	domain.RoomProblem: `You are writing nurture email {{ email_number }} of 5 for the problem-awareness stage on behalf of {{ client_name | default: "our team" }}.

Prospect: {{ prospect_name | default: "there" }}, {{ title | default: "a decision maker" }} at {{ company_name | default: "their company" }}{% if industry != "" %} in the {{ industry }} industry{% endif %}.

Write a short, helpful email exploring a pain point this role commonly faces. Do not pitch any product or service. Reference this article and weave its link naturally into the body: {{ content_url }}

Reply with a "Subject:" line, then the email body in simple HTML using <p> paragraphs only. Under 150 words, plain language, no placeholder text.`,

	domain.RoomSolution: `You are writing nurture email {{ email_number }} of 5 for the solution-awareness stage on behalf of {{ client_name | default: "our team" }}.

Prospect: {{ prospect_name | default: "there" }}, {{ title | default: "a decision maker" }} at {{ company_name | default: "their company" }}{% if industry != "" %} in the {{ industry }} industry{% endif %}.

They already understand their problem. Write a short email showing how teams like theirs approach solving it, without hard selling. Reference this resource and include its link naturally: {{ content_url }}

Reply with a "Subject:" line, then the email body in simple HTML using <p> paragraphs only. Under 150 words, plain language, no placeholder text.`,

	domain.RoomOffer: `You are writing nurture email {{ email_number }} of 5 for the offer stage on behalf of {{ client_name | default: "our team" }}.

Prospect: {{ prospect_name | default: "there" }}, {{ title | default: "a decision maker" }} at {{ company_name | default: "their company" }}{% if industry != "" %} in the {{ industry }} industry{% endif %}.

They are evaluating options. Write a short, confident email with a clear value proposition and one specific call to action (a 20-minute call). Reference this resource if it strengthens the case: {{ content_url }}

Reply with a "Subject:" line, then the email body in simple HTML using <p> paragraphs only. Under 120 words, direct but not pushy, no placeholder text.`,
}

// PromptContext is the data a template can reference.
type PromptContext struct {
	ProspectName string
	CompanyName  string
	Industry     string
	Title        string
	ClientName   string
	Room         domain.Room
	EmailNumber  int
	ContentURL   string
}

func (c PromptContext) bindings() map[string]interface{} {
	return map[string]interface{}{
		"prospect_name": c.ProspectName,
		"company_name":  c.CompanyName,
		"industry":      c.Industry,
		"title":         c.Title,
		"client_name":   c.ClientName,
		"room":          string(c.Room),
		"email_number":  c.EmailNumber,
		"content_url":   c.ContentURL,
	}
}

// PromptBuilder renders Liquid prompt templates with parsed-template
// caching. Safe for concurrent use.
type PromptBuilder struct {
	engine *liquid.Engine
	cache  sync.Map // template string -> *liquid.Template
}

// NewPromptBuilder creates a builder with the default filter registered.
func NewPromptBuilder() *PromptBuilder {
	engine := liquid.NewEngine()

	// Fallback value filter: {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &PromptBuilder{engine: engine}
}

// Build renders the given template with the prospect context. An empty
// template falls back to the room's built-in default.
func (b *PromptBuilder) Build(template string, pctx PromptContext) (string, error) {
	if template == "" {
		template = defaultTemplates[pctx.Room]
	}
	if template == "" {
		return "", fmt.Errorf("no prompt template for room %q: %w", pctx.Room, ErrTemplateConfig)
	}

	tpl, err := b.parse(template)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %v: %w", err, ErrTemplateConfig)
	}

	out, err := tpl.RenderString(pctx.bindings())
	if err != nil {
		return "", fmt.Errorf("render prompt template: %v: %w", err, ErrTemplateConfig)
	}
	return out, nil
}

// Validate parses a template without rendering it, for admin previews.
func (b *PromptBuilder) Validate(template string) error {
	if _, err := b.engine.ParseString(template); err != nil {
		return fmt.Errorf("parse prompt template: %v: %w", err, ErrTemplateConfig)
	}
	return nil
}

func (b *PromptBuilder) parse(template string) (*liquid.Template, error) {
	if cached, ok := b.cache.Load(template); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := b.engine.ParseString(template)
	if err != nil {
		return nil, err
	}
	b.cache.Store(template, tpl)
	return tpl, nil
}
