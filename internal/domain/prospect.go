package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EmailsPerRoom is the fixed sequence length within each room.
const EmailsPerRoom = 5

// EmailState is the lifecycle state of one email slot.
//
//	pending → generating → ready → sent → opened
//	                     ↘ failed (retryable)
type EmailState string

const (
	EmailPending    EmailState = "pending"
	EmailGenerating EmailState = "generating"
	EmailReady      EmailState = "ready"
	EmailSent       EmailState = "sent"
	EmailOpened     EmailState = "opened"
	EmailFailed     EmailState = "failed"
)

// Generatable reports whether a slot in this state may start generation.
func (s EmailState) Generatable() bool {
	return s == EmailPending || s == EmailFailed
}

// Delivered reports whether the slot's email reached the prospect, which is
// the precondition for generating the next slot in the same room.
func (s EmailState) Delivered() bool {
	return s == EmailSent || s == EmailOpened
}

// SlotKey identifies one email slot: a sequence room plus a number 1..5.
// The stored form (JSON map key) is "{room}_{n}", e.g. "problem_3".
type SlotKey struct {
	Room   Room
	Number int
}

// NewSlotKey builds and validates a slot key.
func NewSlotKey(room Room, number int) (SlotKey, error) {
	k := SlotKey{Room: room, Number: number}
	if !room.IsSequenceRoom() {
		return k, fmt.Errorf("room %q has no email sequence", room)
	}
	if number < 1 || number > EmailsPerRoom {
		return k, fmt.Errorf("email number must be 1-%d, got %d", EmailsPerRoom, number)
	}
	return k, nil
}

// ParseSlotKey parses the stored "{room}_{n}" form.
func ParseSlotKey(s string) (SlotKey, error) {
	i := strings.LastIndex(s, "_")
	if i < 1 {
		return SlotKey{}, fmt.Errorf("malformed slot key %q", s)
	}
	room, err := ParseRoom(s[:i])
	if err != nil {
		return SlotKey{}, err
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return SlotKey{}, fmt.Errorf("malformed slot key %q", s)
	}
	return NewSlotKey(room, n)
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s_%d", k.Room, k.Number)
}

// Prev returns the preceding slot in the same room, or ok=false for slot 1.
func (k SlotKey) Prev() (SlotKey, bool) {
	if k.Number <= 1 {
		return SlotKey{}, false
	}
	return SlotKey{Room: k.Room, Number: k.Number - 1}, true
}

// EmailStates is the per-prospect map of slot key → state, persisted as a
// JSON blob on the prospect row. A missing key means the slot was never
// touched and reads as pending.
type EmailStates map[string]EmailState

// Get returns the slot's state, defaulting to pending.
func (s EmailStates) Get(k SlotKey) EmailState {
	if s == nil {
		return EmailPending
	}
	if st, ok := s[k.String()]; ok {
		return st
	}
	return EmailPending
}

// Set records the slot's state.
func (s EmailStates) Set(k SlotKey, st EmailState) {
	s[k.String()] = st
}

// Clone returns a deep copy, safe to mutate independently.
func (s EmailStates) Clone() EmailStates {
	out := make(EmailStates, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Prospect is the join of a Visitor to a Campaign: a qualified lead moving
// through the room/email pipeline. Contact fields are denormalized at
// creation and may drift from the visitor.
type Prospect struct {
	ID         int64  `json:"id" db:"id"`
	VisitorID  int64  `json:"visitor_id" db:"visitor_id"`
	CampaignID int64  `json:"campaign_id" db:"campaign_id"`
	Name       string `json:"name,omitempty" db:"name"`
	Email      string `json:"email,omitempty" db:"email"`
	Title      string `json:"title,omitempty" db:"title"`

	CurrentRoom           Room        `json:"current_room" db:"current_room"`
	LeadScore             int         `json:"lead_score" db:"lead_score"`
	EmailStates           EmailStates `json:"email_states" db:"email_states"`
	EmailSequencePosition int         `json:"email_sequence_position" db:"email_sequence_position"`
	URLsSent              []string    `json:"urls_sent" db:"urls_sent"`

	SalesHandoffAt *time.Time `json:"sales_handoff_at,omitempty" db:"sales_handoff_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Active reports whether the prospect participates in job processing.
func (p *Prospect) Active() bool {
	return p.ArchivedAt == nil
}

// RoomLocked reports whether the prospect is excluded from room
// re-assignment (handed off to sales).
func (p *Prospect) RoomLocked() bool {
	return p.SalesHandoffAt != nil
}

// HasSentURL reports whether the content URL was already shared with this
// prospect.
func (p *Prospect) HasSentURL(url string) bool {
	for _, u := range p.URLsSent {
		if u == url {
			return true
		}
	}
	return false
}

// SequenceComplete reports whether every slot in the room is past
// generation (ready or beyond).
func (p *Prospect) SequenceComplete(room Room) bool {
	for n := 1; n <= EmailsPerRoom; n++ {
		st := p.EmailStates.Get(SlotKey{Room: room, Number: n})
		if st.Generatable() || st == EmailGenerating {
			return false
		}
	}
	return true
}
