package domain

import "time"

// TrackingStatus enumerates the delivery lifecycle of one generated email
// instance.
type TrackingStatus string

const (
	TrackingGenerated TrackingStatus = "generated"
	TrackingCopied    TrackingStatus = "copied"
	TrackingSent      TrackingStatus = "sent"
	TrackingOpened    TrackingStatus = "opened"
)

// TrackingRecord is one row of the email-tracking ledger: a single generated
// email instance with its content, pixel token, and delivery timestamps.
//
// SenderIP stays empty until the operator copies the email; an open event
// from the same IP as SenderIP is the sender previewing their own mail and
// is ignored.
type TrackingRecord struct {
	ID          int64          `json:"id" db:"id"`
	ProspectID  int64          `json:"prospect_id" db:"prospect_id"`
	Room        Room           `json:"room" db:"room"`
	EmailNumber int            `json:"email_number" db:"email_number"`
	Subject     string         `json:"subject" db:"subject"`
	BodyHTML    string         `json:"body_html" db:"body_html"`
	BodyText    string         `json:"body_text" db:"body_text"`
	ContentURL  string         `json:"content_url,omitempty" db:"content_url"`
	Token       string         `json:"tracking_token" db:"tracking_token"`
	Status      TrackingStatus `json:"status" db:"status"`
	SenderIP    string         `json:"sender_ip,omitempty" db:"sender_ip"`

	GeneratedAt time.Time  `json:"generated_at" db:"generated_at"`
	CopiedAt    *time.Time `json:"copied_at,omitempty" db:"copied_at"`
	OpenedAt    *time.Time `json:"opened_at,omitempty" db:"opened_at"`

	Model            string  `json:"model,omitempty" db:"model"`
	PromptTokens     int     `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" db:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd" db:"cost_usd"`
}

// Slot returns the record's slot key.
func (t *TrackingRecord) Slot() SlotKey {
	return SlotKey{Room: t.Room, Number: t.EmailNumber}
}

// Copied reports whether the operator has sent this email. The timestamp is
// the authority; sender_ip may be absent when the client address was unknown
// at copy time.
func (t *TrackingRecord) Copied() bool {
	return t.CopiedAt != nil
}
