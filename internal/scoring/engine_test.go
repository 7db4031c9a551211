package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/nurture-engine/internal/domain"
)

// staticRules serves a fixed ruleset (or error) regardless of client.
type staticRules struct {
	rs  *RuleSet
	err error
}

func (s staticRules) RuleSet(_ context.Context, _ int64) (*RuleSet, error) {
	return s.rs, s.err
}

func testRuleSet() *RuleSet {
	return &RuleSet{
		Problem: []Criterion{
			{Name: "min_page_views", Kind: KindPageViewsMin, Threshold: 3, Points: 10},
			{Name: "recent_visit", Kind: KindRecentVisitDays, Days: 14, Points: 5},
		},
		Solution: []Criterion{
			{Name: "visited_solutions", Kind: KindVisitedPathContains, Value: "/solutions", Points: 15},
			{Name: "email_engaged", Kind: KindEmailOpensMin, Threshold: 2, Points: 10},
		},
		Offer: []Criterion{
			{Name: "enterprise_revenue", Kind: KindRevenueMin, Threshold: 5_000_000, Points: 20},
			{Name: "team_size", Kind: KindCompanySizeMin, Threshold: 50, Points: 10},
			{Name: "target_industry", Kind: KindIndustryIn, Values: []string{"SaaS", "Fintech"}, Points: 10},
			{Name: "demo_request", Kind: KindFormSubmitted, Points: 25},
		},
	}
}

func TestScoreBreakdownSumsToTotal(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour)
	v := &domain.Visitor{
		ID:            7,
		PageViews:     10,
		RecentPaths:   []string{"/blog", "/solutions/analytics"},
		EmailOpens:    3,
		Revenue:       10_000_000,
		CompanySize:   120,
		Industry:      "saas",
		FormSubmitted: true,
		LastSeenAt:    &recent,
	}

	engine := NewEngine(staticRules{rs: testRuleSet()})
	res, err := engine.Score(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if res.Total != res.Breakdown.Problem+res.Breakdown.Solution+res.Breakdown.Offer {
		t.Fatalf("total %d != sum of breakdown %+v", res.Total, res.Breakdown)
	}
	if res.Breakdown.Problem != 15 {
		t.Errorf("problem subtotal = %d, want 15", res.Breakdown.Problem)
	}
	if res.Breakdown.Solution != 25 {
		t.Errorf("solution subtotal = %d, want 25", res.Breakdown.Solution)
	}
	// revenue + size + industry (case-insensitive) + form
	if res.Breakdown.Offer != 65 {
		t.Errorf("offer subtotal = %d, want 65", res.Breakdown.Offer)
	}
	if res.Total != 105 {
		t.Errorf("total = %d, want 105", res.Total)
	}
}

func TestScoreNoPartialCredit(t *testing.T) {
	// Visitor just below every threshold scores exactly zero.
	v := &domain.Visitor{
		ID:          8,
		PageViews:   2,
		EmailOpens:  1,
		Revenue:     4_999_999,
		CompanySize: 49,
		Industry:    "Retail",
	}

	engine := NewEngine(staticRules{rs: testRuleSet()})
	res, err := engine.Score(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected zero score, got %d (details %+v)", res.Total, res.Details)
	}
}

func TestScoreDetailsOnlyMatchedCriteria(t *testing.T) {
	v := &domain.Visitor{ID: 9, PageViews: 5}

	engine := NewEngine(staticRules{rs: testRuleSet()})
	res, err := engine.Score(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if got := res.Details[domain.RoomProblem]["min_page_views"]; got != 10 {
		t.Errorf("min_page_views detail = %d, want 10", got)
	}
	if _, ok := res.Details[domain.RoomProblem]["recent_visit"]; ok {
		t.Error("unmatched criterion should not appear in details")
	}
}

func TestScoreFailsLoudWithoutRules(t *testing.T) {
	tests := []struct {
		name   string
		source RuleSource
	}{
		{"source error", staticRules{err: ErrNoRules}},
		{"nil ruleset", staticRules{}},
		{"invalid ruleset", staticRules{rs: &RuleSet{
			Problem:  []Criterion{{Name: "bad", Kind: "no_such_kind", Points: 5}},
			Solution: []Criterion{{Name: "ok", Kind: KindFormSubmitted, Points: 5}},
			Offer:    []Criterion{{Name: "ok2", Kind: KindFormSubmitted, Points: 5}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(tt.source)
			_, err := engine.Score(context.Background(), &domain.Visitor{ID: 1}, 1)
			if err == nil {
				t.Fatal("expected loud failure, got nil error")
			}
			if !errors.Is(err, ErrNoRules) {
				t.Fatalf("expected ErrNoRules, got %v", err)
			}
		})
	}
}

func TestCriterionValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Criterion
		wantErr bool
	}{
		{"valid revenue", Criterion{Name: "r", Kind: KindRevenueMin, Threshold: 100, Points: 5}, false},
		{"zero points", Criterion{Name: "r", Kind: KindRevenueMin, Threshold: 100, Points: 0}, true},
		{"missing threshold", Criterion{Name: "r", Kind: KindPageViewsMin, Points: 5}, true},
		{"missing value", Criterion{Name: "p", Kind: KindVisitedPathContains, Points: 5}, true},
		{"missing values", Criterion{Name: "i", Kind: KindIndustryIn, Points: 5}, true},
		{"missing days", Criterion{Name: "d", Kind: KindRecentVisitDays, Points: 5}, true},
		{"form ok", Criterion{Name: "f", Kind: KindFormSubmitted, Points: 5}, false},
		{"unknown kind", Criterion{Name: "u", Kind: "mystery", Points: 5}, true},
		{"missing name", Criterion{Kind: KindFormSubmitted, Points: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
