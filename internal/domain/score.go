package domain

import "time"

// ScoreBreakdown holds the per-room subtotals of an intent score. The three
// subtotals always sum to the total.
type ScoreBreakdown struct {
	Problem  int `json:"problem"`
	Solution int `json:"solution"`
	Offer    int `json:"offer"`
}

// Total returns the sum of the three room subtotals.
func (b ScoreBreakdown) Total() int {
	return b.Problem + b.Solution + b.Offer
}

// ScoreResult is the output of one scoring-engine evaluation: the total
// intent score, its per-room breakdown, and per-criterion detail points.
type ScoreResult struct {
	VisitorID    int64                   `json:"visitor_id"`
	Total        int                     `json:"total_score"`
	Breakdown    ScoreBreakdown          `json:"breakdown"`
	Details      map[Room]map[string]int `json:"details"`
	CalculatedAt time.Time               `json:"calculated_at"`
}
