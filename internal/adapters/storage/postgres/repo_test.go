package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/uktrade/tamato/internal/adapters/storage/sqlstore"
	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

// openMock opens a repository over sqlmock with the schema expectations consumed.
func openMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	for range sqlstore.Schema() {
		mock.ExpectExec(`.+`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		if driver != "pgx" {
			t.Fatalf("unexpected driver %q", driver)
		}
		return db, nil
	})
	defer restore()

	repo, err := Open(context.Background(), "postgres://localhost/tamato?sslmode=disable")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return repo, mock
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestNextOrderUsesNumberedPlaceholders(t *testing.T) {
	ctx := context.Background()
	repo, mock := openMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE sequences SET value = value + 1 WHERE name = $1 RETURNING value`)).
		WithArgs("transaction_order").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(7)))
	mock.ExpectCommit()

	var order int64
	err := repo.Atomic(ctx, func(w app.Writer) error {
		var err error
		order, err = w.NextOrder(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("Atomic() error = %v", err)
	}
	if order != 7 {
		t.Fatalf("NextOrder() = %d, want 7", order)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestUniqueViolationMapsToOrderingError(t *testing.T) {
	ctx := context.Background()
	repo, mock := openMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_tx_order_key"})
	mock.ExpectRollback()

	err := repo.Atomic(ctx, func(w app.Writer) error {
		tx, err := domain.NewTransaction("t1", "w1", 3, time.Now())
		if err != nil {
			return err
		}
		return w.CreateTransaction(ctx, tx)
	})
	if !errors.Is(err, domain.ErrDuplicateOrder) || !errors.Is(err, domain.ErrOrdering) {
		t.Fatalf("CreateTransaction() error = %v, want ErrDuplicateOrder", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateWorkbasketReportsConcurrentChange(t *testing.T) {
	ctx := context.Background()
	repo, mock := openMock(t)
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE workbaskets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM workbaskets WHERE id = \$1`).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "reason", "author", "approver", "status", "failure_reason", "envelope_id", "created_at", "updated_at", "submitted_at",
		}).AddRow("w1", "Seed", "", "alice", "", "APPROVED", "", "", now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), nil))
	mock.ExpectRollback()

	wb, err := domain.NewWorkbasket("w1", "Seed", "", "alice", now)
	if err != nil {
		t.Fatalf("NewWorkbasket() error = %v", err)
	}
	err = repo.Atomic(ctx, func(w app.Writer) error {
		return w.UpdateWorkbasket(ctx, wb, domain.StatusProposed)
	})
	if !errors.Is(err, app.ErrConcurrentUpdate) {
		t.Fatalf("UpdateWorkbasket() error = %v, want ErrConcurrentUpdate", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestLoadHistoryApprovedFilter(t *testing.T) {
	ctx := context.Background()
	repo, mock := openMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`w.status IN ($2, $3, $4) AND w.approver <> ''`)).
		WithArgs("footnote_type", "APPROVED", "SENT", "PUBLISHED").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	h, err := repo.LoadHistory(ctx, app.HistoryFilter{Kinds: []domain.Kind{domain.KindFootnoteType}, ApprovedOnly: true})
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(h.Versions) != 0 {
		t.Fatalf("expected empty history, got %d versions", len(h.Versions))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}
