package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/rooms"
)

func TestThresholdRepo(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewThresholdRepo(db)

	t.Run("client row", func(t *testing.T) {
		mock.ExpectQuery("SELECT problem_max, solution_max, offer_min FROM room_thresholds WHERE client_id =").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"problem_max", "solution_max", "offer_min"}).
				AddRow(30, 55, 56))

		got, err := repo.ClientThresholds(context.Background(), 1)
		if err != nil {
			t.Fatalf("ClientThresholds: %v", err)
		}
		if got != (domain.Thresholds{ProblemMax: 30, SolutionMax: 55, OfferMin: 56}) {
			t.Errorf("thresholds = %+v", got)
		}
	})

	t.Run("client row missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT problem_max, solution_max, offer_min FROM room_thresholds WHERE client_id =").
			WithArgs(int64(2)).
			WillReturnError(sql.ErrNoRows)

		if _, err := repo.ClientThresholds(context.Background(), 2); !errors.Is(err, rooms.ErrNotConfigured) {
			t.Errorf("want ErrNotConfigured, got %v", err)
		}
	})

	t.Run("global row", func(t *testing.T) {
		mock.ExpectQuery("SELECT problem_max, solution_max, offer_min FROM room_thresholds WHERE client_id IS NULL").
			WillReturnRows(sqlmock.NewRows([]string{"problem_max", "solution_max", "offer_min"}).
				AddRow(40, 60, 61))

		got, err := repo.GlobalThresholds(context.Background())
		if err != nil {
			t.Fatalf("GlobalThresholds: %v", err)
		}
		if got != domain.DefaultThresholds() {
			t.Errorf("thresholds = %+v", got)
		}
	})

	t.Run("log transition", func(t *testing.T) {
		now := time.Now()
		mock.ExpectExec("INSERT INTO room_progressions").
			WithArgs(int64(7), "solution", "offer", "score 65", now).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.LogTransition(context.Background(), domain.RoomTransition{
			ProspectID: 7,
			FromRoom:   domain.RoomSolution,
			ToRoom:     domain.RoomOffer,
			Reason:     "score 65",
			CreatedAt:  now,
		})
		if err != nil {
			t.Fatalf("LogTransition: %v", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}
