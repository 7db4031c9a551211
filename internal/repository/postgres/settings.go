package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/nurture-engine/internal/domain"
)

const (
	settingAIConfig             = "ai_config"
	settingPromptTemplatePrefix = "prompt_template_"
)

// SettingsRepo reads and writes runtime configuration in app_settings.
// File-config values are the defaults: a missing ai_config row (or missing
// fields in it) falls back to what the server was booted with.
type SettingsRepo struct {
	db       *sql.DB
	defaults domain.AISettings
}

// NewSettingsRepo creates a Postgres-backed settings repository with the
// given file-config defaults.
func NewSettingsRepo(db *sql.DB, defaults domain.AISettings) *SettingsRepo {
	return &SettingsRepo{db: db, defaults: defaults}
}

func (r *SettingsRepo) AISettings(ctx context.Context) (domain.AISettings, error) {
	s := r.defaults
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = $1`, settingAIConfig,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return domain.AISettings{}, fmt.Errorf("load ai settings: %w", err)
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return domain.AISettings{}, fmt.Errorf("decode ai settings: %w", err)
	}
	return s, nil
}

func (r *SettingsRepo) SaveAISettings(ctx context.Context, s domain.AISettings) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode ai settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()
	`, settingAIConfig, body)
	if err != nil {
		return fmt.Errorf("save ai settings: %w", err)
	}
	return nil
}

// PromptTemplate returns the stored template override for a room, or ""
// when none exists (the prompt builder then uses its built-in default).
func (r *SettingsRepo) PromptTemplate(ctx context.Context, room domain.Room) (string, error) {
	var tmpl string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(value->>'template','') FROM app_settings WHERE key = $1`,
		settingPromptTemplatePrefix+string(room),
	).Scan(&tmpl)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load prompt template: %w", err)
	}
	return tmpl, nil
}
