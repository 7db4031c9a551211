package domain

import "time"

// ClientTier enumerates client subscription levels. Only premium clients
// participate in prospect scoring and room assignment.
type ClientTier string

const (
	TierStandard ClientTier = "standard"
	TierPremium  ClientTier = "premium"
)

// Client is an agency customer whose website traffic we nurture.
type Client struct {
	ID             int64      `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Tier           ClientTier `json:"tier" db:"tier"`
	NurtureEnabled bool       `json:"nurture_enabled" db:"nurture_enabled"`
	TrackedDomains []string   `json:"tracked_domains" db:"tracked_domains"`
	ContentFeedURL string     `json:"content_feed_url" db:"content_feed_url"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Qualifies reports whether the client's campaigns participate in the
// nurture pipeline.
func (c *Client) Qualifies() bool {
	return c.Tier == TierPremium && c.NurtureEnabled
}

// Campaign is a client's outreach campaign with a date-bounded validity window.
type Campaign struct {
	ID        int64     `json:"id" db:"id"`
	ClientID  int64     `json:"client_id" db:"client_id"`
	Name      string    `json:"name" db:"name"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActiveAt reports whether the campaign window covers the given instant.
func (c *Campaign) ActiveAt(t time.Time) bool {
	return !t.Before(c.StartsAt) && !t.After(c.EndsAt)
}

// Visitor is a tracked website visitor, anonymous or identified. Created by
// the tracking collector, mutated by the scoring engine, archived but never
// deleted. CampaignID is filled by the lifecycle job's matching stage.
type Visitor struct {
	ID         int64  `json:"id" db:"id"`
	ClientID   int64  `json:"client_id" db:"client_id"`
	CampaignID *int64 `json:"campaign_id,omitempty" db:"campaign_id"`
	Name       string `json:"name,omitempty" db:"name"`
	Email      string `json:"email,omitempty" db:"email"`
	Title      string `json:"title,omitempty" db:"title"`

	CompanyName string  `json:"company_name,omitempty" db:"company_name"`
	CompanySize int     `json:"company_size" db:"company_size"`
	Industry    string  `json:"industry,omitempty" db:"industry"`
	Revenue     float64 `json:"revenue" db:"revenue"`

	PageViews     int        `json:"page_views" db:"page_views"`
	RecentPaths   []string   `json:"recent_paths" db:"recent_paths"`
	EmailOpens    int        `json:"email_opens" db:"email_opens"`
	FormSubmitted bool       `json:"form_submitted" db:"form_submitted"`
	LastSeenAt    *time.Time `json:"last_seen_at" db:"last_seen_at"`

	LeadScore         int        `json:"lead_score" db:"lead_score"`
	ScoreCalculatedAt *time.Time `json:"score_calculated_at" db:"score_calculated_at"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty" db:"archived_at"`
}
