package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/enrich"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
)

func newLifecycleMock(t *testing.T) (*LifecycleRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewLifecycleRepo(db), mock, func() { db.Close() }
}

func visitorRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "client_id", "campaign_id", "name", "email", "title",
		"company_name", "company_size", "industry", "revenue",
		"page_views", "recent_paths", "email_opens", "form_submitted", "last_seen_at",
		"lead_score", "score_calculated_at", "created_at", "updated_at", "archived_at",
	})
}

func TestLifecycleRepoQualifyingCampaign(t *testing.T) {
	repo, mock, done := newLifecycleMock(t)
	defer done()

	now := time.Now()

	t.Run("newest active campaign wins", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM campaigns").
			WithArgs(int64(1), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "client_id", "name", "starts_at", "ends_at", "created_at",
			}).AddRow(int64(5), int64(1), "Spring Push", now.Add(-time.Hour), now.Add(time.Hour), now))

		c, err := repo.QualifyingCampaign(context.Background(), 1, now)
		if err != nil {
			t.Fatalf("QualifyingCampaign: %v", err)
		}
		if c.ID != 5 || c.Name != "Spring Push" {
			t.Errorf("campaign = %+v", c)
		}
	})

	t.Run("no qualifying campaign", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM campaigns").
			WillReturnError(sql.ErrNoRows)

		if _, err := repo.QualifyingCampaign(context.Background(), 2, now); !errors.Is(err, lifecycle.ErrNoCampaign) {
			t.Errorf("want ErrNoCampaign, got %v", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestLifecycleRepoVisitorsForScoring(t *testing.T) {
	repo, mock, done := newLifecycleMock(t)
	defer done()

	now := time.Now()

	t.Run("incremental filters on staleness", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM visitors .+score_calculated_at").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(visitorRows().AddRow(
				int64(3), int64(1), int64(5), "Dana", "dana@acme.test", "VP Engineering",
				"Acme Rockets", 230, "aerospace", 12000000.0,
				9, []byte(`{"/pricing","/blog/a"}`), 2, true, now,
				0, nil, now, now, nil,
			))

		visitors, err := repo.VisitorsForScoring(context.Background(), lifecycle.ScoreFilter{
			StaleBefore: now.Add(-7 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("VisitorsForScoring: %v", err)
		}
		if len(visitors) != 1 {
			t.Fatalf("visitors = %d, want 1", len(visitors))
		}
		v := visitors[0]
		if v.CampaignID == nil || *v.CampaignID != 5 {
			t.Errorf("campaign_id = %v", v.CampaignID)
		}
		if len(v.RecentPaths) != 2 || v.RecentPaths[0] != "/pricing" {
			t.Errorf("recent_paths = %v", v.RecentPaths)
		}
		if !v.FormSubmitted || v.Revenue != 12000000.0 {
			t.Errorf("scan drift: %+v", v)
		}
	})

	t.Run("full mode takes everyone", func(t *testing.T) {
		// No staleness argument in full mode.
		mock.ExpectQuery("SELECT .+ FROM visitors").
			WillReturnRows(visitorRows())

		if _, err := repo.VisitorsForScoring(context.Background(), lifecycle.ScoreFilter{All: true}); err != nil {
			t.Fatalf("VisitorsForScoring full: %v", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestLifecycleRepoCreateProspect(t *testing.T) {
	repo, mock, done := newLifecycleMock(t)
	defer done()

	p := &domain.Prospect{
		VisitorID:   3,
		CampaignID:  5,
		Name:        "Dana",
		Email:       "dana@acme.test",
		CurrentRoom: domain.RoomSolution,
		LeadScore:   45,
		EmailStates: domain.EmailStates{},
	}

	t.Run("inserts and returns id", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO prospects").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		id, err := repo.CreateProspect(context.Background(), p)
		if err != nil {
			t.Fatalf("CreateProspect: %v", err)
		}
		if id != 11 {
			t.Errorf("id = %d, want 11", id)
		}
	})

	t.Run("create race falls back to the surviving row", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("INSERT INTO prospects").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT .+ FROM prospects").
			WithArgs(int64(3), int64(5)).
			WillReturnRows(prospectRows().AddRow(
				int64(12), int64(3), int64(5), "Dana", "dana@acme.test", "",
				"solution", 45, []byte(`{}`), 0, []byte(`{}`), nil, nil, now, now,
			))

		id, err := repo.CreateProspect(context.Background(), p)
		if err != nil {
			t.Fatalf("CreateProspect race: %v", err)
		}
		if id != 12 {
			t.Errorf("id = %d, want surviving row 12", id)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestLifecycleRepoUpdateVisitorCompany(t *testing.T) {
	repo, mock, done := newLifecycleMock(t)
	defer done()

	mock.ExpectExec("UPDATE visitors").
		WithArgs("Acme Rockets", "aerospace", 230, 12000000.0, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateVisitorCompany(context.Background(), 3, enrich.Firmographics{
		CompanyName:   "Acme Rockets",
		Industry:      "aerospace",
		EmployeeCount: 230,
		AnnualRevenue: 12000000.0,
	})
	if err != nil {
		t.Fatalf("UpdateVisitorCompany: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestLifecycleRepoRuns(t *testing.T) {
	repo, mock, done := newLifecycleMock(t)
	defer done()

	report := &domain.RunReport{
		ID:        "run-1",
		Mode:      domain.JobIncremental,
		StartedAt: time.Now().Add(-time.Minute),
	}
	report.Match.Matched = 3
	report.Prospects.Created = 2
	report.FinishedAt = time.Now()
	report.DurationMS = 60000

	t.Run("save", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO job_runs").
			WithArgs("run-1", string(domain.JobIncremental), nil, sqlmock.AnyArg(), "",
				sqlmock.AnyArg(), sqlmock.AnyArg(), int64(60000)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := repo.SaveRun(context.Background(), report); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	})

	t.Run("read back", func(t *testing.T) {
		body, _ := json.Marshal(report)
		mock.ExpectQuery("SELECT stats FROM job_runs").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"stats"}).AddRow(body))

		runs, err := repo.RecentRuns(context.Background(), 10)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Match.Matched != 3 {
			t.Errorf("runs = %+v", runs)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}
