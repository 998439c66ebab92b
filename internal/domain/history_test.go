package domain

import (
	"testing"
	"time"
)

// historyFixture builds a history with one group edited by an approved and two draft workbaskets.
func historyFixture(t *testing.T) History {
	t.Helper()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	approved := Workbasket{ID: "w0", Status: StatusApproved, Approver: "bob"}
	draftA := Workbasket{ID: "wa", Status: StatusEditing}
	draftB := Workbasket{ID: "wb", Status: StatusEditing}
	valid, _ := NewValidity(day(2026, 1, 1), nil)

	h := NewHistory()
	add := func(id, pred string, update UpdateType, tx Transaction, wb Workbasket) {
		h.Add(TrackedEntity{
			ID:             id,
			Kind:           KindFootnoteType,
			VersionGroupID: "g1",
			TransactionID:  tx.ID,
			PredecessorID:  pred,
			UpdateType:     update,
			Validity:       valid,
			IdentityKey:    "footnote_type_id=TN",
			CreatedAt:      now,
		}, tx, wb)
	}
	add("v1", "", UpdateCreate, Transaction{ID: "t1", WorkbasketID: "w0", Order: 1}, approved)
	add("v2a", "v1", UpdateUpdate, Transaction{ID: "t2", WorkbasketID: "wa", Order: 2}, draftA)
	add("v2b", "v1", UpdateUpdate, Transaction{ID: "t3", WorkbasketID: "wb", Order: 3}, draftB)
	add("v3a", "v2a", UpdateUpdate, Transaction{ID: "t4", WorkbasketID: "wa", Order: 4}, draftA)
	return h
}

func TestHistoryLatestPerGroupApprovedOnly(t *testing.T) {
	h := historyFixture(t)
	got := h.LatestPerGroup(nil)
	if len(got) != 1 || got[0].ID != "v1" {
		t.Fatalf("expected approved v1 only, got %#v", got)
	}
}

func TestHistoryLatestPerGroupOwnDraftsOnly(t *testing.T) {
	h := historyFixture(t)
	cases := []struct {
		anchor Transaction
		want   string
	}{
		{anchor: h.Transactions["t2"], want: "v2a"},
		{anchor: h.Transactions["t3"], want: "v2b"},
		{anchor: h.Transactions["t4"], want: "v3a"},
		{anchor: h.Transactions["t1"], want: "v1"},
	}
	for _, tc := range cases {
		anchor := tc.anchor
		got := h.LatestPerGroup(&anchor)
		if len(got) != 1 || got[0].ID != tc.want {
			t.Fatalf("anchor %s: expected %s, got %#v", anchor.ID, tc.want, got)
		}
	}
}

func TestHistoryVisibleVersionsAndGroup(t *testing.T) {
	h := historyFixture(t)
	anchor := h.Transactions["t4"]
	visible := h.VisibleVersions(&anchor)
	if len(visible) != 3 || visible[0].ID != "v1" || visible[1].ID != "v2a" || visible[2].ID != "v3a" {
		t.Fatalf("unexpected visible versions %#v", visible)
	}
	all := h.GroupVersions("g1")
	if len(all) != 4 || all[3].ID != "v3a" {
		t.Fatalf("unexpected group versions %#v", all)
	}
}
