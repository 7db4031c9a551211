package domain

import (
	"fmt"
	"time"
)

// Room is a pipeline stage representing a prospect's funnel progress.
type Room string

const (
	RoomNone     Room = "none"
	RoomProblem  Room = "problem"
	RoomSolution Room = "solution"
	RoomOffer    Room = "offer"
	RoomSales    Room = "sales"
)

// roomOrder assigns each room a rank for progression comparisons.
// none < problem < solution < offer < sales.
var roomOrder = map[Room]int{
	RoomNone:     0,
	RoomProblem:  1,
	RoomSolution: 2,
	RoomOffer:    3,
	RoomSales:    4,
}

// Order returns the room's rank in the funnel. Unknown rooms rank below none.
func (r Room) Order() int {
	if o, ok := roomOrder[r]; ok {
		return o
	}
	return -1
}

// Valid reports whether r is a known room name.
func (r Room) Valid() bool {
	_, ok := roomOrder[r]
	return ok
}

// IsSequenceRoom reports whether r carries a 5-slot email sequence.
// Only problem, solution, and offer do; none and sales have no outreach.
func (r Room) IsSequenceRoom() bool {
	return r == RoomProblem || r == RoomSolution || r == RoomOffer
}

// SequenceRooms returns the rooms that carry email sequences, in funnel order.
func SequenceRooms() []Room {
	return []Room{RoomProblem, RoomSolution, RoomOffer}
}

// ParseRoom converts a wire string into a Room.
func ParseRoom(s string) (Room, error) {
	r := Room(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown room %q", s)
	}
	return r, nil
}

// Thresholds are the three score cutoffs that map an intent score to a room.
// Invariant: 0 < ProblemMax < SolutionMax < OfferMin.
type Thresholds struct {
	ProblemMax  int `json:"problem_max"`
	SolutionMax int `json:"solution_max"`
	OfferMin    int `json:"offer_min"`
}

// DefaultThresholds is the hardcoded fallback used when no valid
// configuration exists for a client or globally.
func DefaultThresholds() Thresholds {
	return Thresholds{ProblemMax: 40, SolutionMax: 60, OfferMin: 61}
}

// Validate checks the threshold ordering invariant.
func (t Thresholds) Validate() error {
	if t.ProblemMax < 1 {
		return fmt.Errorf("problem_max must be >= 1, got %d", t.ProblemMax)
	}
	if t.SolutionMax <= t.ProblemMax {
		return fmt.Errorf("solution_max (%d) must be > problem_max (%d)", t.SolutionMax, t.ProblemMax)
	}
	if t.OfferMin <= t.SolutionMax {
		return fmt.Errorf("offer_min (%d) must be > solution_max (%d)", t.OfferMin, t.SolutionMax)
	}
	return nil
}

// RoomTransition is one append-only audit entry recording a prospect moving
// between rooms.
type RoomTransition struct {
	ID         int64     `json:"id" db:"id"`
	ProspectID int64     `json:"prospect_id" db:"prospect_id"`
	FromRoom   Room      `json:"from_room" db:"from_room"`
	ToRoom     Room      `json:"to_room" db:"to_room"`
	Reason     string    `json:"reason" db:"reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
