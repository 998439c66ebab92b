package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/uktrade/tamato/internal/adapters/storage/memory"
	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

// newTestAdapter builds one adapter over an in-memory store with deterministic ids and clock.
func newTestAdapter(t *testing.T) *AppServiceAdapter {
	t.Helper()
	seq := 0
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc := app.NewService(memory.New(), func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}, func() time.Time { return now }, app.ServiceConfig{})
	return NewAppServiceAdapter(svc)
}

// TestAdapterWorkflowRoundTrip verifies create, commit, approve and query through transport types.
func TestAdapterWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	wb, err := adapter.CreateWorkbasket(ctx, CreateWorkbasketRequest{Title: "Footnote types", Author: "alice"})
	if err != nil {
		t.Fatalf("CreateWorkbasket() error = %v", err)
	}
	if wb.Status != "EDITING" || !slices.Contains(wb.NextStatuses, "PROPOSED") {
		t.Fatalf("unexpected workbasket %#v", wb)
	}

	committed, err := adapter.Commit(ctx, CommitRequest{
		WorkbasketID: wb.ID,
		Changes: []Change{{
			Kind:       "footnote_type",
			UpdateType: "create",
			ValidFrom:  "2026-01-01",
			Payload:    json.RawMessage(`{"footnote_type_id":"TN","description":"Tariff note"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(committed.Versions) != 1 || committed.Versions[0].UpdateType != "CREATE" {
		t.Fatalf("unexpected commit result %#v", committed)
	}
	if committed.Transaction.Partition != "DRAFT" {
		t.Fatalf("partition = %q, want DRAFT", committed.Transaction.Partition)
	}

	before, err := adapter.QueryVersions(ctx, QueryRequest{Kind: "footnote_type"})
	if err != nil {
		t.Fatalf("QueryVersions() error = %v", err)
	}
	if before.Count != 0 {
		t.Fatalf("draft versions visible before approval: %#v", before)
	}

	if _, err := adapter.TransitionWorkbasket(ctx, TransitionRequest{WorkbasketID: wb.ID, Action: "submit"}); err != nil {
		t.Fatalf("TransitionWorkbasket(submit) error = %v", err)
	}
	approved, err := adapter.TransitionWorkbasket(ctx, TransitionRequest{WorkbasketID: wb.ID, Action: "APPROVE", Approver: "bob"})
	if err != nil {
		t.Fatalf("TransitionWorkbasket(approve) error = %v", err)
	}
	if approved.Status != "APPROVED" || approved.Approver != "bob" {
		t.Fatalf("unexpected approved workbasket %#v", approved)
	}

	after, err := adapter.QueryVersions(ctx, QueryRequest{Kind: "footnote_type", AsAt: "2026-02-01"})
	if err != nil {
		t.Fatalf("QueryVersions() error = %v", err)
	}
	if after.Count != 1 || after.Versions[0].ValidFrom != "2026-01-01" {
		t.Fatalf("unexpected approved query %#v", after)
	}

	history, err := adapter.VersionHistory(ctx, committed.Versions[0].VersionGroupID)
	if err != nil {
		t.Fatalf("VersionHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}

	txs, err := adapter.ListTransactions(ctx, wb.ID)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txs) != 1 || txs[0].Partition != "SEED" {
		t.Fatalf("unexpected transactions %#v", txs)
	}
}

// TestAdapterExportDigest verifies envelope digests are computed over the encoded body.
func TestAdapterExportDigest(t *testing.T) {
	adapter := newTestAdapter(t)
	env, err := adapter.ExportEnvelope(context.Background(), ExportRequest{})
	if err != nil {
		t.Fatalf("ExportEnvelope() error = %v", err)
	}
	sum := sha256.Sum256(env.Body)
	if env.Digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("digest = %q, want sha256 of body", env.Digest)
	}
	if _, err := adapter.ExportEnvelope(context.Background(), ExportRequest{SinceOrder: -1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("ExportEnvelope() error = %v, want ErrInvalidRequest", err)
	}
}

// TestAdapterRejectsMalformedInput verifies transport parsing failures map to invalid_request.
func TestAdapterRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	cases := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "unknown status filter",
			call: func() error {
				_, err := adapter.ListWorkbaskets(ctx, ListWorkbasketsRequest{Statuses: []string{"pending"}})
				return err
			},
			want: ErrInvalidRequest,
		},
		{
			name: "unknown transition",
			call: func() error {
				_, err := adapter.TransitionWorkbasket(ctx, TransitionRequest{WorkbasketID: "w1", Action: "reopen"})
				return err
			},
			want: ErrInvalidRequest,
		},
		{
			name: "unknown kind",
			call: func() error {
				_, err := adapter.Commit(ctx, CommitRequest{WorkbasketID: "w1", Changes: []Change{{Kind: "tariff", UpdateType: "CREATE", ValidFrom: "2026-01-01"}}})
				return err
			},
			want: ErrInvalidRequest,
		},
		{
			name: "bad validity",
			call: func() error {
				_, err := adapter.Commit(ctx, CommitRequest{WorkbasketID: "w1", Changes: []Change{{Kind: "footnote_type", UpdateType: "CREATE", ValidFrom: "2026-02-01", ValidTo: "2026-01-01"}}})
				return err
			},
			want: ErrValidationFailed,
		},
		{
			name: "bad as_at",
			call: func() error {
				_, err := adapter.QueryVersions(ctx, QueryRequest{AsAt: "yesterday"})
				return err
			},
			want: ErrInvalidRequest,
		},
		{
			name: "missing workbasket",
			call: func() error {
				_, err := adapter.GetWorkbasket(ctx, "missing")
				return err
			},
			want: ErrNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

// TestMapAppErrorCategories verifies domain failures land in the expected transport category.
func TestMapAppErrorCategories(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{err: app.ErrNotFound, want: ErrNotFound},
		{err: app.ErrApprovalDenied, want: ErrForbidden},
		{err: app.ErrSinkNotConfigured, want: ErrUnavailable},
		{err: domain.ValidationError(domain.ErrOverlappingValidity), want: ErrValidationFailed},
		{err: domain.OrderingError(domain.ErrStalePredecessor), want: ErrConflict},
		{err: app.ErrConcurrentUpdate, want: ErrConflict},
		{err: domain.ErrInvalidTransition, want: ErrConflict},
		{err: domain.ErrApproverRequired, want: ErrInvalidRequest},
	}
	for _, tc := range cases {
		got := mapAppError("op", tc.err)
		if !errors.Is(got, tc.want) || !errors.Is(got, tc.err) {
			t.Fatalf("mapAppError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if mapAppError("op", nil) != nil {
		t.Fatal("mapAppError(nil) should be nil")
	}
}

// TestListKindsDescribesRegistry verifies kind metadata is exported for every registered kind.
func TestListKindsDescribesRegistry(t *testing.T) {
	kinds, err := newTestAdapter(t).ListKinds(context.Background())
	if err != nil {
		t.Fatalf("ListKinds() error = %v", err)
	}
	if len(kinds) != len(domain.Kinds()) {
		t.Fatalf("ListKinds() returned %d kinds, want %d", len(kinds), len(domain.Kinds()))
	}
	for _, k := range kinds {
		if k.Kind == "measure" && !slices.Contains(k.References, "geographical_area") {
			t.Fatalf("measure references = %v, want geographical_area", k.References)
		}
	}
}
