package domain

import (
	"cmp"
	"slices"
)

// History is a consistent snapshot of versions plus the transactions and workbaskets they belong to.
type History struct {
	Versions     []TrackedEntity
	Transactions map[string]Transaction
	Workbaskets  map[string]Workbasket
}

// NewHistory returns an empty history.
func NewHistory() History {
	return History{
		Transactions: map[string]Transaction{},
		Workbaskets:  map[string]Workbasket{},
	}
}

// Add records a version together with its transaction and workbasket.
func (h *History) Add(v TrackedEntity, tx Transaction, wb Workbasket) {
	if h.Transactions == nil {
		h.Transactions = map[string]Transaction{}
	}
	if h.Workbaskets == nil {
		h.Workbaskets = map[string]Workbasket{}
	}
	h.Versions = append(h.Versions, v)
	h.Transactions[tx.ID] = tx
	h.Workbaskets[wb.ID] = wb
}

// Merge adds the versions of other that h lacks and restores transaction order.
func (h *History) Merge(other History) {
	have := make(map[string]struct{}, len(h.Versions))
	for _, v := range h.Versions {
		have[v.ID] = struct{}{}
	}
	for _, v := range other.Versions {
		if _, ok := have[v.ID]; ok {
			continue
		}
		have[v.ID] = struct{}{}
		tx := other.Transactions[v.TransactionID]
		h.Add(v, tx, other.Workbaskets[tx.WorkbasketID])
	}
	h.SortByOrder(h.Versions)
}

// OrderOf returns the transaction order of v, or 0 when its transaction is unknown.
func (h History) OrderOf(v TrackedEntity) int64 {
	return h.Transactions[v.TransactionID].Order
}

// IsApproved reports whether v belongs to an approved workbasket.
func (h History) IsApproved(v TrackedEntity) bool {
	tx, ok := h.Transactions[v.TransactionID]
	if !ok {
		return false
	}
	wb, ok := h.Workbaskets[tx.WorkbasketID]
	return ok && wb.IsApproved()
}

// Visible reports whether v is visible from anchor.
// A nil anchor sees approved versions only. Otherwise v is visible when it
// belongs to the anchor transaction, precedes it in the same workbasket, or
// belongs to any approved workbasket.
func (h History) Visible(v TrackedEntity, anchor *Transaction) bool {
	if h.IsApproved(v) {
		return true
	}
	if anchor == nil {
		return false
	}
	tx, ok := h.Transactions[v.TransactionID]
	if !ok {
		return false
	}
	if tx.ID == anchor.ID {
		return true
	}
	return tx.WorkbasketID == anchor.WorkbasketID && tx.Order < anchor.Order
}

// LatestPerGroup returns, for each version group, the visible version with the highest order.
// DELETE versions are kept; callers decide whether to occlude them.
func (h History) LatestPerGroup(anchor *Transaction) []TrackedEntity {
	latest := map[string]TrackedEntity{}
	for _, v := range h.Versions {
		if !h.Visible(v, anchor) {
			continue
		}
		cur, ok := latest[v.VersionGroupID]
		if !ok || h.OrderOf(v) > h.OrderOf(cur) {
			latest[v.VersionGroupID] = v
		}
	}
	out := make([]TrackedEntity, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	h.SortByOrder(out)
	return out
}

// VisibleVersions returns every visible version ordered by transaction order.
func (h History) VisibleVersions(anchor *Transaction) []TrackedEntity {
	out := make([]TrackedEntity, 0, len(h.Versions))
	for _, v := range h.Versions {
		if h.Visible(v, anchor) {
			out = append(out, v)
		}
	}
	h.SortByOrder(out)
	return out
}

// GroupVersions returns all versions of a group in transaction order.
func (h History) GroupVersions(groupID string) []TrackedEntity {
	out := make([]TrackedEntity, 0)
	for _, v := range h.Versions {
		if v.VersionGroupID == groupID {
			out = append(out, v)
		}
	}
	h.SortByOrder(out)
	return out
}

// SortByOrder sorts versions by transaction order, breaking ties by id.
func (h History) SortByOrder(versions []TrackedEntity) {
	slices.SortFunc(versions, func(a, b TrackedEntity) int {
		if c := cmp.Compare(h.OrderOf(a), h.OrderOf(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
