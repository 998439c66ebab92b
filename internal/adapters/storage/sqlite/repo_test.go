package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

func seed(t *testing.T, repo *Repository, now time.Time) domain.TrackedEntity {
	t.Helper()
	ctx := context.Background()
	wb, err := domain.NewWorkbasket("w1", "Seed", "initial load", "alice", now)
	if err != nil {
		t.Fatalf("NewWorkbasket() error = %v", err)
	}
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	validity, err := domain.NewValidity(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), &end)
	if err != nil {
		t.Fatalf("NewValidity() error = %v", err)
	}
	var version domain.TrackedEntity
	err = repo.Atomic(ctx, func(w app.Writer) error {
		if err := w.CreateWorkbasket(ctx, wb); err != nil {
			return err
		}
		order, err := w.NextOrder(ctx)
		if err != nil {
			return err
		}
		tx, err := domain.NewTransaction("t1", wb.ID, order, now)
		if err != nil {
			return err
		}
		if err := w.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		version, err = domain.NewTrackedEntity(domain.VersionInput{
			ID:             "v1",
			Kind:           domain.KindFootnoteType,
			VersionGroupID: "g1",
			TransactionID:  tx.ID,
			UpdateType:     domain.UpdateCreate,
			Validity:       validity,
			Payload:        json.RawMessage(`{"footnote_type_id":"TN","description":"Tariff note"}`),
		}, now)
		if err != nil {
			return err
		}
		group, err := domain.NewVersionGroup("g1", version.Kind, version.IdentityKey, now)
		if err != nil {
			return err
		}
		if err := w.CreateVersionGroup(ctx, group); err != nil {
			return err
		}
		return w.CreateVersion(ctx, version)
	})
	if err != nil {
		t.Fatalf("seed Atomic() error = %v", err)
	}
	return version
}

func TestRepository_VersionLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tamato.db")
	repo, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	seeded := seed(t, repo, now)

	loaded, err := repo.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if loaded.IdentityKey != "footnote_type_id=TN" || loaded.Validity.EndString() != "2026-12-31" {
		t.Fatalf("unexpected version %#v", loaded)
	}
	if string(loaded.Payload) != string(seeded.Payload) {
		t.Fatalf("payload = %s, want %s", loaded.Payload, seeded.Payload)
	}

	h, err := repo.LoadHistory(ctx, app.HistoryFilter{Kinds: []domain.Kind{domain.KindFootnoteType}})
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(h.Versions) != 1 || h.OrderOf(h.Versions[0]) != 1 {
		t.Fatalf("unexpected history %#v", h)
	}
	if h.Workbaskets["w1"].Author != "alice" {
		t.Fatalf("expected joined workbasket, got %#v", h.Workbaskets)
	}

	approved, err := repo.LoadHistory(ctx, app.HistoryFilter{ApprovedOnly: true})
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(approved.Versions) != 0 {
		t.Fatalf("expected draft versions to be hidden, got %d", len(approved.Versions))
	}

	if err := repo.Atomic(ctx, func(w app.Writer) error {
		return w.SetCurrentVersion(ctx, "g1", "v1")
	}); err != nil {
		t.Fatalf("SetCurrentVersion() error = %v", err)
	}
	group, err := repo.GetVersionGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("GetVersionGroup() error = %v", err)
	}
	if group.CurrentVersionID != "v1" {
		t.Fatalf("current version = %q, want v1", group.CurrentVersionID)
	}
}

func TestRepository_OrderCounterPersists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tamato.db")
	repo, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	seed(t, repo, time.Now())
	_ = repo.Close()

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	var order int64
	if err := reopened.Atomic(ctx, func(w app.Writer) error {
		var err error
		order, err = w.NextOrder(ctx)
		return err
	}); err != nil {
		t.Fatalf("NextOrder() error = %v", err)
	}
	if order != 2 {
		t.Fatalf("NextOrder() = %d, want 2", order)
	}
}

func TestRepository_ConstraintErrors(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	seeded := seed(t, repo, now)

	err = repo.Atomic(ctx, func(w app.Writer) error {
		tx, _ := domain.NewTransaction("t2", "w1", 1, now)
		return w.CreateTransaction(ctx, tx)
	})
	if !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("CreateTransaction() error = %v, want ErrDuplicateOrder", err)
	}

	dup := seeded
	dup.ID = "v2"
	err = repo.Atomic(ctx, func(w app.Writer) error {
		return w.CreateVersion(ctx, dup)
	})
	if !errors.Is(err, domain.ErrGroupTwiceInTransaction) {
		t.Fatalf("CreateVersion() error = %v, want ErrGroupTwiceInTransaction", err)
	}

	wb, err := repo.GetWorkbasket(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWorkbasket() error = %v", err)
	}
	if err := wb.Submit(now); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	err = repo.Atomic(ctx, func(w app.Writer) error {
		return w.UpdateWorkbasket(ctx, wb, domain.StatusProposed)
	})
	if !errors.Is(err, app.ErrConcurrentUpdate) {
		t.Fatalf("UpdateWorkbasket() error = %v, want ErrConcurrentUpdate", err)
	}
	if _, err := repo.GetWorkbasket(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("GetWorkbasket() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_DeleteWorkbasket(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	seed(t, repo, time.Now())

	if err := repo.Atomic(ctx, func(w app.Writer) error {
		return w.DeleteWorkbasket(ctx, "w1")
	}); err != nil {
		t.Fatalf("DeleteWorkbasket() error = %v", err)
	}
	if _, err := repo.GetVersionGroup(ctx, "g1"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("GetVersionGroup() error = %v, want ErrNotFound", err)
	}
	txs, err := repo.ListTransactions(ctx, app.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestRepository_LoadHistoryNaturalKeysKeepGroupsWhole(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	validity, err := domain.NewValidity(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatalf("NewValidity() error = %v", err)
	}
	area := func(id, group, tx, pred string, update domain.UpdateType, payload string) domain.TrackedEntity {
		v, err := domain.NewTrackedEntity(domain.VersionInput{
			ID:             id,
			Kind:           domain.KindGeographicalArea,
			VersionGroupID: group,
			TransactionID:  tx,
			PredecessorID:  pred,
			UpdateType:     update,
			Validity:       validity,
			Payload:        json.RawMessage(payload),
		}, now)
		if err != nil {
			t.Fatalf("NewTrackedEntity(%s) error = %v", id, err)
		}
		return v
	}
	renamed := area("v1", "g1", "t1", "", domain.UpdateCreate, `{"sid":1,"area_id":"GB","area_code":0}`)
	versions := []domain.TrackedEntity{
		renamed,
		area("v2", "g2", "t1", "", domain.UpdateCreate, `{"sid":2,"area_id":"FR","area_code":0}`),
		area("v3", "g1", "t2", "v1", domain.UpdateUpdate, `{"sid":1,"area_id":"XI","area_code":0}`),
	}
	wb, err := domain.NewWorkbasket("w-areas", "Areas", "", "alice", now)
	if err != nil {
		t.Fatalf("NewWorkbasket() error = %v", err)
	}
	err = repo.Atomic(ctx, func(w app.Writer) error {
		if err := w.CreateWorkbasket(ctx, wb); err != nil {
			return err
		}
		for _, id := range []string{"t1", "t2"} {
			order, err := w.NextOrder(ctx)
			if err != nil {
				return err
			}
			tx, err := domain.NewTransaction(id, wb.ID, order, now)
			if err != nil {
				return err
			}
			if err := w.CreateTransaction(ctx, tx); err != nil {
				return err
			}
		}
		for _, v := range versions {
			if v.UpdateType == domain.UpdateCreate {
				group, err := domain.NewVersionGroup(v.VersionGroupID, v.Kind, v.IdentityKey, now)
				if err != nil {
					return err
				}
				if err := w.CreateVersionGroup(ctx, group); err != nil {
					return err
				}
			}
			if err := w.CreateVersion(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic() error = %v", err)
	}

	h, err := repo.LoadHistory(ctx, app.HistoryFilter{
		Kinds:       []domain.Kind{domain.KindGeographicalArea},
		NaturalKeys: []string{renamed.NaturalKey},
	})
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	var ids []string
	for _, v := range h.Versions {
		ids = append(ids, v.ID)
	}
	if len(ids) != 2 || ids[0] != "v1" || ids[1] != "v3" {
		t.Fatalf("LoadHistory(NaturalKeys) = %v, want the whole renamed group [v1 v3]", ids)
	}
	if h.Transactions["t2"].Partition != domain.PartitionDraft {
		t.Fatalf("unexpected partition %q", h.Transactions["t2"].Partition)
	}
}
