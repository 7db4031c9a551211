package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
)

// Criterion kinds. Each kind is a fixed-point lookup: the criterion
// contributes its full Points value when the condition holds, else zero.
const (
	KindRevenueMin          = "revenue_min"
	KindCompanySizeMin      = "company_size_min"
	KindIndustryIn          = "industry_in"
	KindPageViewsMin        = "page_views_min"
	KindVisitedPathContains = "visited_path_contains"
	KindEmailOpensMin       = "email_opens_min"
	KindFormSubmitted       = "form_submitted"
	KindRecentVisitDays     = "recent_visit_days"
)

// Criterion is one weighted scoring condition evaluated against a visitor.
type Criterion struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Points    int      `json:"points"`
	Threshold float64  `json:"threshold,omitempty"`
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
	Days      int      `json:"days,omitempty"`
}

// Validate checks the criterion is well-formed.
func (c Criterion) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("criterion missing name")
	}
	if c.Points <= 0 {
		return fmt.Errorf("criterion %s: points must be positive, got %d", c.Name, c.Points)
	}
	switch c.Kind {
	case KindRevenueMin, KindCompanySizeMin, KindPageViewsMin, KindEmailOpensMin:
		if c.Threshold <= 0 {
			return fmt.Errorf("criterion %s: kind %s requires a positive threshold", c.Name, c.Kind)
		}
	case KindVisitedPathContains:
		if c.Value == "" {
			return fmt.Errorf("criterion %s: kind %s requires a value", c.Name, c.Kind)
		}
	case KindIndustryIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("criterion %s: kind %s requires values", c.Name, c.Kind)
		}
	case KindRecentVisitDays:
		if c.Days <= 0 {
			return fmt.Errorf("criterion %s: kind %s requires positive days", c.Name, c.Kind)
		}
	case KindFormSubmitted:
		// no extra fields
	default:
		return fmt.Errorf("criterion %s: unknown kind %q", c.Name, c.Kind)
	}
	return nil
}

// matches evaluates the criterion against a visitor at the given instant.
func (c Criterion) matches(v *domain.Visitor, now time.Time) bool {
	switch c.Kind {
	case KindRevenueMin:
		return v.Revenue >= c.Threshold
	case KindCompanySizeMin:
		return v.CompanySize >= int(c.Threshold)
	case KindIndustryIn:
		for _, ind := range c.Values {
			if strings.EqualFold(ind, v.Industry) {
				return true
			}
		}
		return false
	case KindPageViewsMin:
		return v.PageViews >= int(c.Threshold)
	case KindVisitedPathContains:
		for _, p := range v.RecentPaths {
			if strings.Contains(p, c.Value) {
				return true
			}
		}
		return false
	case KindEmailOpensMin:
		return v.EmailOpens >= int(c.Threshold)
	case KindFormSubmitted:
		return v.FormSubmitted
	case KindRecentVisitDays:
		if v.LastSeenAt == nil {
			return false
		}
		return now.Sub(*v.LastSeenAt) <= time.Duration(c.Days)*24*time.Hour
	}
	return false
}

// RuleSet groups the weighted criteria by room. Stored as JSONB in
// scoring_rules, client-specific with a global fallback row.
type RuleSet struct {
	Problem  []Criterion `json:"problem"`
	Solution []Criterion `json:"solution"`
	Offer    []Criterion `json:"offer"`
}

// Validate checks every criterion in the set and returns all problems
// found, so the admin can fix the config in one pass.
func (rs *RuleSet) Validate() []string {
	var errs []string
	check := func(room domain.Room, list []Criterion) {
		if len(list) == 0 {
			errs = append(errs, fmt.Sprintf("%s: no criteria defined", room))
		}
		for _, c := range list {
			if err := c.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", room, err))
			}
		}
	}
	check(domain.RoomProblem, rs.Problem)
	check(domain.RoomSolution, rs.Solution)
	check(domain.RoomOffer, rs.Offer)
	return errs
}

// ForRoom returns the criteria list for a sequence room.
func (rs *RuleSet) ForRoom(room domain.Room) []Criterion {
	switch room {
	case domain.RoomProblem:
		return rs.Problem
	case domain.RoomSolution:
		return rs.Solution
	case domain.RoomOffer:
		return rs.Offer
	}
	return nil
}
