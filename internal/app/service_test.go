package app

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/uktrade/tamato/internal/domain"
)

// fakeRepo serves a fixed history and records what Atomic was asked to do.
type fakeRepo struct {
	Writer
	workbaskets map[string]domain.Workbasket
	atomicErr   error
	atomicCalls int
	loadCalls   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{workbaskets: map[string]domain.Workbasket{}}
}

func (f *fakeRepo) GetWorkbasket(_ context.Context, id string) (domain.Workbasket, error) {
	wb, ok := f.workbaskets[id]
	if !ok {
		return domain.Workbasket{}, ErrNotFound
	}
	return wb, nil
}

func (f *fakeRepo) Atomic(_ context.Context, fn func(Writer) error) error {
	f.atomicCalls++
	if f.atomicErr != nil {
		return f.atomicErr
	}
	return fn(f)
}

func (f *fakeRepo) CreateWorkbasket(_ context.Context, wb domain.Workbasket) error {
	f.workbaskets[wb.ID] = wb
	return nil
}

func (f *fakeRepo) LoadHistory(context.Context, HistoryFilter) (domain.History, error) {
	f.loadCalls++
	return domain.NewHistory(), nil
}

func (f *fakeRepo) Close() error { return nil }

type capturedEvent struct {
	level string
	msg   string
}

type captureLogger struct{ events []capturedEvent }

func (c *captureLogger) Debug(msg string, _ ...any) { c.events = append(c.events, capturedEvent{"debug", msg}) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.events = append(c.events, capturedEvent{"info", msg}) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.events = append(c.events, capturedEvent{"warn", msg}) }
func (c *captureLogger) Error(msg string, _ ...any) { c.events = append(c.events, capturedEvent{"error", msg}) }

func newTestService(repo Repository, logger EventLogger) *Service {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	ids := 0
	return NewService(repo, func() string {
		ids++
		return "id-" + string(rune('a'+ids-1))
	}, func() time.Time { return now }, ServiceConfig{Logger: logger})
}

func TestCreateWorkbasketLogsAndStores(t *testing.T) {
	repo := newFakeRepo()
	logger := &captureLogger{}
	svc := newTestService(repo, logger)

	wb, err := svc.CreateWorkbasket(context.Background(), CreateWorkbasketInput{Title: " Tariff changes ", Author: "alice"})
	if err != nil {
		t.Fatalf("CreateWorkbasket() error = %v", err)
	}
	if wb.Title != "Tariff changes" || wb.Status != domain.StatusEditing {
		t.Fatalf("unexpected workbasket %#v", wb)
	}
	if _, ok := repo.workbaskets[wb.ID]; !ok {
		t.Fatal("expected workbasket to be stored")
	}
	if len(logger.events) != 1 || logger.events[0].msg != "workbasket created" {
		t.Fatalf("unexpected log events %#v", logger.events)
	}
}

func TestAtomicErrorsPropagate(t *testing.T) {
	repo := newFakeRepo()
	repo.atomicErr = errors.New("disk full")
	svc := newTestService(repo, nil)

	if _, err := svc.CreateWorkbasket(context.Background(), CreateWorkbasketInput{Title: "x"}); !errors.Is(err, repo.atomicErr) {
		t.Fatalf("CreateWorkbasket() error = %v, want disk full", err)
	}
	if _, err := svc.CreateWorkbasket(context.Background(), CreateWorkbasketInput{Title: " "}); !errors.Is(err, domain.ErrInvalidTitle) {
		t.Fatalf("CreateWorkbasket() error = %v, want ErrInvalidTitle", err)
	}
	if repo.atomicCalls != 1 {
		t.Fatalf("invalid input must not reach storage, atomic calls = %d", repo.atomicCalls)
	}
}

func TestApproveChecksAuthorizerBeforeStorage(t *testing.T) {
	repo := newFakeRepo()
	repo.workbaskets["w1"] = domain.Workbasket{ID: "w1", Title: "x", Author: "alice", Status: domain.StatusProposed}
	svc := newTestService(repo, nil)

	if _, err := svc.ApproveWorkbasket(context.Background(), "w1", "ALICE"); !errors.Is(err, ErrApprovalDenied) {
		t.Fatalf("ApproveWorkbasket() error = %v, want ErrApprovalDenied", err)
	}
	if repo.atomicCalls != 0 {
		t.Fatalf("denied approval must not open a storage transaction, got %d", repo.atomicCalls)
	}
	if _, err := svc.ApproveWorkbasket(context.Background(), "missing", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ApproveWorkbasket() error = %v, want ErrNotFound", err)
	}
}

func TestSendRequiresSink(t *testing.T) {
	repo := newFakeRepo()
	repo.workbaskets["w1"] = domain.Workbasket{ID: "w1", Title: "x", Status: domain.StatusApproved, Approver: "bob"}
	svc := newTestService(repo, nil)
	if _, err := svc.SendWorkbasket(context.Background(), "w1"); !errors.Is(err, ErrSinkNotConfigured) {
		t.Fatalf("SendWorkbasket() error = %v, want ErrSinkNotConfigured", err)
	}
	repo.workbaskets["w2"] = domain.Workbasket{ID: "w2", Title: "x", Status: domain.StatusEditing}
	if _, err := svc.SendWorkbasket(context.Background(), "w2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("SendWorkbasket() error = %v, want ErrInvalidTransition", err)
	}
}

func version(id, group string, kind domain.Kind, update domain.UpdateType, pred, payload string) domain.TrackedEntity {
	spec, _ := domain.LookupKind(kind)
	fields, _ := spec.Decode(json.RawMessage(payload))
	identity, _ := spec.IdentityKey(fields)
	return domain.TrackedEntity{
		ID:             id,
		Kind:           kind,
		VersionGroupID: group,
		PredecessorID:  pred,
		UpdateType:     update,
		Validity:       domain.Validity{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		IdentityKey:    identity,
		NaturalKey:     spec.NaturalKeyOf(fields),
		Payload:        json.RawMessage(payload),
	}
}

func TestChainViewAdmitsInOrder(t *testing.T) {
	view := &chainView{latest: map[string]domain.TrackedEntity{}}
	steps := []struct {
		v    domain.TrackedEntity
		want error
	}{
		{v: version("v1", "g1", domain.KindQuotaOrderNumber, domain.UpdateCreate, "", `{"sid":1,"order_number":"050001"}`)},
		{v: version("v2", "g1", domain.KindQuotaOrderNumber, domain.UpdateUpdate, "v1", `{"sid":1,"order_number":"050001","mechanism":1}`)},
		{v: version("v3", "g1", domain.KindQuotaOrderNumber, domain.UpdateUpdate, "v1", `{"sid":1,"order_number":"050001"}`), want: domain.ErrStalePredecessor},
		{v: version("v4", "g2", domain.KindQuotaDefinition, domain.UpdateCreate, "", `{"sid":7,"order_number_sid":1}`)},
		{v: version("v5", "g1", domain.KindQuotaOrderNumber, domain.UpdateDelete, "v2", `{"sid":1,"order_number":"050001"}`), want: domain.ErrReferencedByDependent},
		{v: version("v6", "g2", domain.KindQuotaDefinition, domain.UpdateDelete, "v4", `{"sid":7,"order_number_sid":1}`)},
		{v: version("v7", "g1", domain.KindQuotaOrderNumber, domain.UpdateDelete, "v2", `{"sid":1,"order_number":"050001"}`)},
		{v: version("v8", "g1", domain.KindQuotaOrderNumber, domain.UpdateUpdate, "v7", `{"sid":1,"order_number":"050001"}`), want: domain.ErrVersionAfterDelete},
		{v: version("v9", "g3", domain.KindQuotaOrderNumber, domain.UpdateCreate, "", `{"sid":1,"order_number":"050001"}`)},
	}
	for _, step := range steps {
		err := view.admit(step.v)
		if step.want == nil && err != nil {
			t.Fatalf("admit(%s) error = %v", step.v.ID, err)
		}
		if step.want != nil && !errors.Is(err, step.want) {
			t.Fatalf("admit(%s) error = %v, want %v", step.v.ID, err, step.want)
		}
	}
}

func TestNeighbourhoodFiltersCoverGroupsKeysAndDependents(t *testing.T) {
	filters := neighbourhoodFilters([]domain.TrackedEntity{
		{Kind: domain.KindMeasure, VersionGroupID: "g1", UpdateType: domain.UpdateUpdate, IdentityKey: "m1", NaturalKey: "nk"},
		{Kind: domain.KindMeasure, VersionGroupID: pendingRef, UpdateType: domain.UpdateCreate, IdentityKey: "m2"},
		{Kind: domain.KindGeographicalArea, VersionGroupID: "g2", UpdateType: domain.UpdateDelete, IdentityKey: "GB"},
		{Kind: domain.KindMeasure, VersionGroupID: "g1", UpdateType: domain.UpdateUpdate, IdentityKey: "m1", NaturalKey: "nk"},
	})
	want := []HistoryFilter{
		{GroupIDs: []string{"g1", "g2"}},
		{Kinds: []domain.Kind{domain.KindGeographicalArea}, IdentityKeys: []string{"GB"}},
		{Kinds: []domain.Kind{domain.KindMeasure}, IdentityKeys: []string{"m1", "m2"}},
		{Kinds: []domain.Kind{domain.KindMeasure}, NaturalKeys: []string{"nk"}},
		{Kinds: []domain.Kind{domain.KindMeasure}},
	}
	if !reflect.DeepEqual(filters, want) {
		t.Fatalf("neighbourhoodFilters() = %#v, want %#v", filters, want)
	}
	for _, f := range filters {
		if len(f.Kinds) == 0 && len(f.GroupIDs) == 0 {
			t.Fatalf("filter %#v would load the whole log", f)
		}
	}
}

func TestNeighbourhoodFiltersSkipDependentsWithoutDeletes(t *testing.T) {
	filters := neighbourhoodFilters([]domain.TrackedEntity{
		{Kind: domain.KindGeographicalArea, VersionGroupID: "g2", UpdateType: domain.UpdateUpdate, IdentityKey: "GB"},
	})
	for _, f := range filters {
		if slices.Contains(f.Kinds, domain.KindMeasure) {
			t.Fatalf("unexpected dependent load %#v", f)
		}
	}
}

func TestIdentityQueriesRejectMissingFieldsBeforeStorage(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	partial := map[string]string{"footnote_id": "001"}

	if _, err := svc.Query(ctx, Query{Kind: domain.KindFootnote, Identity: partial}); !errors.Is(err, domain.ErrMissingIdentifyingValue) {
		t.Fatalf("Query() error = %v, want ErrMissingIdentifyingValue", err)
	}
	if _, err := svc.LatestVersion(ctx, domain.KindFootnote, partial); !errors.Is(err, domain.ErrMissingIdentifyingValue) {
		t.Fatalf("LatestVersion() error = %v, want ErrMissingIdentifyingValue", err)
	}
	if _, err := svc.FirstVersion(ctx, domain.KindFootnote, partial); !errors.Is(err, domain.ErrMissingIdentifyingValue) {
		t.Fatalf("FirstVersion() error = %v, want ErrMissingIdentifyingValue", err)
	}
	if repo.loadCalls != 0 {
		t.Fatalf("storage read %d times for an invalid identity", repo.loadCalls)
	}

	full := map[string]string{"footnote_type_id": "TN", "footnote_id": "001"}
	if _, err := svc.Query(ctx, Query{Kind: domain.KindFootnote, Identity: full}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if repo.loadCalls != 1 {
		t.Fatalf("loadCalls = %d, want 1", repo.loadCalls)
	}
}

func TestParseLensAndEffect(t *testing.T) {
	if lens, err := ParseLens(""); err != nil || lens != LensLatestApproved {
		t.Fatalf("ParseLens(\"\") = %q, %v", lens, err)
	}
	if lens, err := ParseLens(" VERSIONS_UP_TO "); err != nil || lens != LensVersionsUpTo {
		t.Fatalf("ParseLens() = %q, %v", lens, err)
	}
	if _, err := ParseEffect("sometimes"); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("ParseEffect() error = %v, want ErrInvalidQuery", err)
	}
}
