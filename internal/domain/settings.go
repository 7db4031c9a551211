package domain

// AISettings is the runtime AI-provider configuration, stored in
// app_settings and editable through the API. File-config values act as
// defaults for unset fields.
type AISettings struct {
	Enabled            bool    `json:"enabled"`
	Provider           string  `json:"provider"`
	APIKey             string  `json:"api_key"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"max_tokens"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
}

// Redacted returns a copy safe for API responses: the key is reduced to its
// last four characters.
func (s AISettings) Redacted() AISettings {
	out := s
	if n := len(out.APIKey); n > 4 {
		out.APIKey = "****" + out.APIKey[n-4:]
	} else if n > 0 {
		out.APIKey = "****"
	}
	return out
}
