// Package memory provides an in-memory version log used for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

var _ app.Repository = (*Store)(nil)

type memoryState struct {
	order        int64
	workbaskets  map[string]domain.Workbasket
	transactions map[string]domain.Transaction
	groups       map[string]domain.VersionGroup
	versions     map[string]domain.TrackedEntity
}

func newMemoryState() memoryState {
	return memoryState{
		workbaskets:  map[string]domain.Workbasket{},
		transactions: map[string]domain.Transaction{},
		groups:       map[string]domain.VersionGroup{},
		versions:     map[string]domain.TrackedEntity{},
	}
}

// clone copies the maps; stored values are immutable once written.
func (s memoryState) clone() memoryState {
	return memoryState{
		order:        s.order,
		workbaskets:  maps.Clone(s.workbaskets),
		transactions: maps.Clone(s.transactions),
		groups:       maps.Clone(s.groups),
		versions:     maps.Clone(s.versions),
	}
}

// Store is a mutex-guarded version log. Atomic runs against a copy that replaces the state on success.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// New constructs an empty store.
func New() *Store {
	return &Store{state: newMemoryState()}
}

// Close closes the requested operation.
func (s *Store) Close() error { return nil }

// Atomic runs fn against a private copy of the state and publishes it only when fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(app.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := &session{state: s.state.clone()}
	if err := fn(work); err != nil {
		return err
	}
	s.state = work.state
	return nil
}

func (s *Store) view() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &session{state: s.state}
}

// GetWorkbasket returns a workbasket by id.
func (s *Store) GetWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.view().GetWorkbasket(ctx, id)
}

// ListWorkbaskets lists workbaskets.
func (s *Store) ListWorkbaskets(ctx context.Context, f app.WorkbasketFilter) ([]domain.Workbasket, error) {
	return s.view().ListWorkbaskets(ctx, f)
}

// GetTransaction returns a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.view().GetTransaction(ctx, id)
}

// ListTransactions lists transactions in order.
func (s *Store) ListTransactions(ctx context.Context, f app.TransactionFilter) ([]domain.Transaction, error) {
	return s.view().ListTransactions(ctx, f)
}

// GetVersionGroup returns a version group by id.
func (s *Store) GetVersionGroup(ctx context.Context, id string) (domain.VersionGroup, error) {
	return s.view().GetVersionGroup(ctx, id)
}

// GetVersion returns a version by id.
func (s *Store) GetVersion(ctx context.Context, id string) (domain.TrackedEntity, error) {
	return s.view().GetVersion(ctx, id)
}

// LoadHistory returns matching versions from one snapshot.
func (s *Store) LoadHistory(ctx context.Context, f app.HistoryFilter) (domain.History, error) {
	return s.view().LoadHistory(ctx, f)
}

// session reads and writes one state value.
type session struct {
	state memoryState
}

func (s *session) GetWorkbasket(_ context.Context, id string) (domain.Workbasket, error) {
	wb, ok := s.state.workbaskets[id]
	if !ok {
		return domain.Workbasket{}, fmt.Errorf("workbasket %s: %w", id, app.ErrNotFound)
	}
	return wb, nil
}

func (s *session) ListWorkbaskets(_ context.Context, f app.WorkbasketFilter) ([]domain.Workbasket, error) {
	out := make([]domain.Workbasket, 0, len(s.state.workbaskets))
	for _, wb := range s.state.workbaskets {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, wb.Status) {
			continue
		}
		out = append(out, wb)
	}
	slices.SortFunc(out, func(a, b domain.Workbasket) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *session) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	tx, ok := s.state.transactions[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, app.ErrNotFound)
	}
	return tx, nil
}

func (s *session) ListTransactions(_ context.Context, f app.TransactionFilter) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	for _, tx := range s.state.transactions {
		if f.WorkbasketID != "" && tx.WorkbasketID != f.WorkbasketID {
			continue
		}
		if len(f.Partitions) > 0 && !slices.Contains(f.Partitions, tx.Partition) {
			continue
		}
		if tx.Order <= f.AfterOrder {
			continue
		}
		if f.ApprovedOnly && !s.state.workbaskets[tx.WorkbasketID].IsApproved() {
			continue
		}
		out = append(out, tx)
	}
	domain.SortTransactions(out)
	return out, nil
}

func (s *session) GetVersionGroup(_ context.Context, id string) (domain.VersionGroup, error) {
	g, ok := s.state.groups[id]
	if !ok {
		return domain.VersionGroup{}, fmt.Errorf("version group %s: %w", id, app.ErrNotFound)
	}
	return g, nil
}

func (s *session) GetVersion(_ context.Context, id string) (domain.TrackedEntity, error) {
	v, ok := s.state.versions[id]
	if !ok {
		return domain.TrackedEntity{}, fmt.Errorf("version %s: %w", id, app.ErrNotFound)
	}
	return v, nil
}

func (s *session) LoadHistory(_ context.Context, f app.HistoryFilter) (domain.History, error) {
	h := domain.NewHistory()
	var naturalGroups map[string]struct{}
	if len(f.NaturalKeys) > 0 {
		naturalGroups = map[string]struct{}{}
		for _, v := range s.state.versions {
			if slices.Contains(f.NaturalKeys, v.NaturalKey) {
				naturalGroups[v.VersionGroupID] = struct{}{}
			}
		}
	}
	for _, v := range s.state.versions {
		if naturalGroups != nil {
			if _, ok := naturalGroups[v.VersionGroupID]; !ok {
				continue
			}
		}
		if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, v.Kind) {
			continue
		}
		if len(f.IdentityKeys) > 0 && !slices.Contains(f.IdentityKeys, v.IdentityKey) {
			continue
		}
		if len(f.GroupIDs) > 0 && !slices.Contains(f.GroupIDs, v.VersionGroupID) {
			continue
		}
		tx := s.state.transactions[v.TransactionID]
		wb := s.state.workbaskets[tx.WorkbasketID]
		if f.WorkbasketID != "" && tx.WorkbasketID != f.WorkbasketID {
			continue
		}
		if tx.Order <= f.AfterOrder {
			continue
		}
		if f.ApprovedOnly && !wb.IsApproved() {
			continue
		}
		h.Add(v, tx, wb)
	}
	h.SortByOrder(h.Versions)
	return h, nil
}

func (s *session) NextOrder(context.Context) (int64, error) {
	s.state.order++
	return s.state.order, nil
}

func (s *session) CreateWorkbasket(_ context.Context, wb domain.Workbasket) error {
	if _, exists := s.state.workbaskets[wb.ID]; exists {
		return fmt.Errorf("workbasket %s already exists", wb.ID)
	}
	s.state.workbaskets[wb.ID] = wb
	return nil
}

func (s *session) UpdateWorkbasket(_ context.Context, wb domain.Workbasket, expected domain.WorkbasketStatus) error {
	cur, ok := s.state.workbaskets[wb.ID]
	if !ok {
		return fmt.Errorf("workbasket %s: %w", wb.ID, app.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("workbasket %s is %s, expected %s: %w", wb.ID, cur.Status, expected, app.ErrConcurrentUpdate)
	}
	s.state.workbaskets[wb.ID] = wb
	return nil
}

func (s *session) DeleteWorkbasket(_ context.Context, id string) error {
	if _, ok := s.state.workbaskets[id]; !ok {
		return fmt.Errorf("workbasket %s: %w", id, app.ErrNotFound)
	}
	touched := map[string]struct{}{}
	for vid, v := range s.state.versions {
		if s.state.transactions[v.TransactionID].WorkbasketID == id {
			touched[v.VersionGroupID] = struct{}{}
			delete(s.state.versions, vid)
		}
	}
	for gid := range touched {
		orphan := true
		for _, v := range s.state.versions {
			if v.VersionGroupID == gid {
				orphan = false
				break
			}
		}
		if orphan {
			delete(s.state.groups, gid)
		}
	}
	for tid, tx := range s.state.transactions {
		if tx.WorkbasketID == id {
			delete(s.state.transactions, tid)
		}
	}
	delete(s.state.workbaskets, id)
	return nil
}

func (s *session) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	if err := s.checkOrderFree(tx); err != nil {
		return err
	}
	if _, ok := s.state.workbaskets[tx.WorkbasketID]; !ok {
		return fmt.Errorf("workbasket %s: %w", tx.WorkbasketID, app.ErrNotFound)
	}
	s.state.transactions[tx.ID] = tx
	return nil
}

func (s *session) UpdateTransaction(_ context.Context, tx domain.Transaction) error {
	if _, ok := s.state.transactions[tx.ID]; !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, app.ErrNotFound)
	}
	if err := s.checkOrderFree(tx); err != nil {
		return err
	}
	s.state.transactions[tx.ID] = tx
	return nil
}

func (s *session) checkOrderFree(tx domain.Transaction) error {
	for id, other := range s.state.transactions {
		if id != tx.ID && other.Order == tx.Order {
			return domain.OrderingError(domain.ErrDuplicateOrder)
		}
	}
	return nil
}

func (s *session) CreateVersionGroup(_ context.Context, g domain.VersionGroup) error {
	if _, exists := s.state.groups[g.ID]; exists {
		return fmt.Errorf("version group %s already exists", g.ID)
	}
	s.state.groups[g.ID] = g
	return nil
}

func (s *session) SetCurrentVersion(_ context.Context, groupID, versionID string) error {
	g, ok := s.state.groups[groupID]
	if !ok {
		return fmt.Errorf("version group %s: %w", groupID, app.ErrNotFound)
	}
	g.CurrentVersionID = versionID
	s.state.groups[groupID] = g
	return nil
}

func (s *session) CreateVersion(_ context.Context, v domain.TrackedEntity) error {
	if _, exists := s.state.versions[v.ID]; exists {
		return fmt.Errorf("version %s already exists", v.ID)
	}
	if _, ok := s.state.groups[v.VersionGroupID]; !ok {
		return fmt.Errorf("version group %s: %w", v.VersionGroupID, app.ErrNotFound)
	}
	if _, ok := s.state.transactions[v.TransactionID]; !ok {
		return fmt.Errorf("transaction %s: %w", v.TransactionID, app.ErrNotFound)
	}
	for _, other := range s.state.versions {
		if other.VersionGroupID == v.VersionGroupID && other.TransactionID == v.TransactionID {
			return domain.OrderingError(domain.ErrGroupTwiceInTransaction)
		}
	}
	s.state.versions[v.ID] = v
	return nil
}
