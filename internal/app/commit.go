package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/uktrade/tamato/internal/domain"
)

// pendingRef marks references that are resolved once storage is available.
const pendingRef = "pending"

// ChangeInput describes one new version to record.
type ChangeInput struct {
	Kind       domain.Kind
	UpdateType domain.UpdateType
	// PredecessorID is required for UPDATE and DELETE and forbidden for CREATE.
	PredecessorID string
	// VersionGroupID optionally asserts the predecessor's group; CREATE always starts a new group.
	VersionGroupID string
	Validity       domain.Validity
	Payload        json.RawMessage
}

// CommitInput holds input values for commit operations.
type CommitInput struct {
	WorkbasketID string
	Changes      []ChangeInput
}

// CommitResult holds the transaction and versions created by one commit.
type CommitResult struct {
	Transaction domain.Transaction
	Versions    []domain.TrackedEntity
}

// NewTransaction opens an empty transaction at the next global order in an EDITING workbasket.
func (s *Service) NewTransaction(ctx context.Context, workbasketID string) (domain.Transaction, error) {
	var tx domain.Transaction
	err := s.repo.Atomic(ctx, func(w Writer) error {
		created, err := s.openTransaction(ctx, w, workbasketID, s.clock())
		tx = created
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logger.Debug("transaction opened", "workbasket_id", workbasketID, "transaction_id", tx.ID, "order", tx.Order)
	return tx, nil
}

// CurrentTransaction returns the workbasket's last transaction, or the latest approved transaction when it has none.
func (s *Service) CurrentTransaction(ctx context.Context, workbasketID string) (domain.Transaction, error) {
	if _, err := s.repo.GetWorkbasket(ctx, workbasketID); err != nil {
		return domain.Transaction{}, err
	}
	own, err := s.repo.ListTransactions(ctx, TransactionFilter{WorkbasketID: workbasketID})
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(own) > 0 {
		return own[len(own)-1], nil
	}
	approved, err := s.repo.ListTransactions(ctx, TransactionFilter{ApprovedOnly: true})
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(approved) == 0 {
		return domain.Transaction{}, ErrNotFound
	}
	return approved[len(approved)-1], nil
}

// Commit records a batch of changes as one new transaction; either every version is stored or none is.
func (s *Service) Commit(ctx context.Context, in CommitInput) (CommitResult, error) {
	if len(in.Changes) == 0 {
		return CommitResult{}, ErrEmptyChangeSet
	}
	now := s.clock()
	pending, err := s.prepareVersions(in.Changes, now)
	if err != nil {
		return CommitResult{}, err
	}

	var result CommitResult
	err = s.repo.Atomic(ctx, func(w Writer) error {
		tx, err := s.openTransaction(ctx, w, in.WorkbasketID, now)
		if err != nil {
			return err
		}
		versions, err := s.storeVersions(ctx, w, tx, pending, now)
		if err != nil {
			return err
		}
		result = CommitResult{Transaction: tx, Versions: versions}
		return nil
	})
	if err != nil {
		s.logger.Debug("commit rejected", "workbasket_id", in.WorkbasketID, "err", err)
		return CommitResult{}, err
	}
	s.observeVersions(result.Versions)
	s.logger.Info("transaction committed",
		"workbasket_id", in.WorkbasketID,
		"transaction_id", result.Transaction.ID,
		"order", result.Transaction.Order,
		"versions", len(result.Versions),
	)
	return result, nil
}

// CreateVersion records one version inside an existing transaction of an EDITING workbasket.
func (s *Service) CreateVersion(ctx context.Context, transactionID string, change ChangeInput) (domain.TrackedEntity, error) {
	now := s.clock()
	pending, err := s.prepareVersions([]ChangeInput{change}, now)
	if err != nil {
		return domain.TrackedEntity{}, err
	}

	var created domain.TrackedEntity
	err = s.repo.Atomic(ctx, func(w Writer) error {
		tx, err := w.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if _, err := s.editableWorkbasket(ctx, w, tx.WorkbasketID); err != nil {
			return err
		}
		versions, err := s.storeVersions(ctx, w, tx, pending, now)
		if err != nil {
			return err
		}
		created = versions[0]
		return nil
	})
	if err != nil {
		return domain.TrackedEntity{}, err
	}
	s.observeVersions([]domain.TrackedEntity{created})
	return created, nil
}

// prepareVersions validates change content before storage is touched.
func (s *Service) prepareVersions(changes []ChangeInput, now time.Time) ([]domain.TrackedEntity, error) {
	out := make([]domain.TrackedEntity, 0, len(changes))
	for i, change := range changes {
		groupID := pendingRef
		switch {
		case change.UpdateType == domain.UpdateCreate:
			groupID = s.idGen()
		case change.VersionGroupID != "":
			groupID = change.VersionGroupID
		}
		v, err := domain.NewTrackedEntity(domain.VersionInput{
			ID:             s.idGen(),
			Kind:           change.Kind,
			VersionGroupID: groupID,
			TransactionID:  pendingRef,
			PredecessorID:  change.PredecessorID,
			UpdateType:     change.UpdateType,
			Validity:       change.Validity,
			Payload:        change.Payload,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) editableWorkbasket(ctx context.Context, w Writer, id string) (domain.Workbasket, error) {
	wb, err := w.GetWorkbasket(ctx, id)
	if err != nil {
		return domain.Workbasket{}, err
	}
	if !wb.IsEditable() {
		return domain.Workbasket{}, fmt.Errorf("workbasket %s is %s: %w", wb.ID, wb.Status, domain.ErrNotEditable)
	}
	return wb, nil
}

func (s *Service) openTransaction(ctx context.Context, w Writer, workbasketID string, now time.Time) (domain.Transaction, error) {
	wb, err := s.editableWorkbasket(ctx, w, workbasketID)
	if err != nil {
		return domain.Transaction{}, err
	}
	order, err := w.NextOrder(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx, err := domain.NewTransaction(s.idGen(), wb.ID, order, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := w.CreateTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// storeVersions binds pending versions to tx, validates them against the view from tx, and persists them.
func (s *Service) storeVersions(ctx context.Context, w Writer, tx domain.Transaction, pending []domain.TrackedEntity, now time.Time) ([]domain.TrackedEntity, error) {
	versions := slices.Clone(pending)
	groups := make([]domain.VersionGroup, 0, len(versions))
	seen := map[string]struct{}{}
	for i := range versions {
		v := &versions[i]
		v.TransactionID = tx.ID
		if v.UpdateType == domain.UpdateCreate {
			group, err := domain.NewVersionGroup(v.VersionGroupID, v.Kind, v.IdentityKey, now)
			if err != nil {
				return nil, err
			}
			groups = append(groups, group)
		} else {
			pred, err := w.GetVersion(ctx, v.PredecessorID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, fmt.Errorf("predecessor %s: %w", v.PredecessorID, err)
				}
				return nil, err
			}
			if pred.Kind != v.Kind || (v.VersionGroupID != pendingRef && v.VersionGroupID != pred.VersionGroupID) {
				return nil, domain.OrderingError(fmt.Errorf("%w: predecessor %s", domain.ErrPredecessorMismatch, pred.ID))
			}
			v.VersionGroupID = pred.VersionGroupID
		}
		if _, dup := seen[v.VersionGroupID]; dup {
			return nil, domain.OrderingError(domain.ErrGroupTwiceInTransaction)
		}
		seen[v.VersionGroupID] = struct{}{}
	}

	// Versions the workbasket already holds after tx must still apply on top of the new ones.
	later, err := w.LoadHistory(ctx, HistoryFilter{WorkbasketID: tx.WorkbasketID, AfterOrder: tx.Order})
	if err != nil {
		return nil, err
	}
	h, err := loadNeighbourhood(ctx, w, append(slices.Clone(versions), later.Versions...))
	if err != nil {
		return nil, err
	}
	for _, existing := range h.Versions {
		if _, dup := seen[existing.VersionGroupID]; dup && existing.TransactionID == tx.ID {
			return nil, domain.OrderingError(domain.ErrGroupTwiceInTransaction)
		}
	}
	view := newChainView(h, &tx)
	for _, v := range versions {
		if err := view.admit(v); err != nil {
			return nil, err
		}
	}
	replay := slices.Clone(later.Versions)
	later.SortByOrder(replay)
	for _, v := range replay {
		if err := view.admit(v); err != nil {
			return nil, fmt.Errorf("conflicts with later transaction %s: %w", v.TransactionID, err)
		}
	}

	for _, group := range groups {
		if err := w.CreateVersionGroup(ctx, group); err != nil {
			return nil, err
		}
	}
	for _, v := range versions {
		if err := w.CreateVersion(ctx, v); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

// validateApproval re-checks a workbasket's edits, in order, against the approved view.
func (s *Service) validateApproval(ctx context.Context, w Writer, workbasketID string) error {
	own, err := w.LoadHistory(ctx, HistoryFilter{WorkbasketID: workbasketID})
	if err != nil {
		return err
	}
	if len(own.Versions) == 0 {
		return nil
	}
	h, err := loadNeighbourhood(ctx, w, own.Versions)
	if err != nil {
		return err
	}
	view := newChainView(h, nil)
	candidates := slices.Clone(own.Versions)
	own.SortByOrder(candidates)
	for _, v := range candidates {
		if err := view.admit(v); err != nil {
			return fmt.Errorf("approve workbasket %s: %w", workbasketID, err)
		}
	}
	return nil
}

func (s *Service) observeVersions(versions []domain.TrackedEntity) {
	for _, v := range versions {
		s.metrics.ObserveVersions(v.Kind, v.UpdateType, 1)
	}
}

// loadNeighbourhood loads every version group that admitting candidates can
// consult: their own groups, groups of the same kind sharing an identity or
// natural key, and all versions of kinds that depend on a deleted kind.
func loadNeighbourhood(ctx context.Context, r Reader, candidates []domain.TrackedEntity) (domain.History, error) {
	h := domain.NewHistory()
	for _, f := range neighbourhoodFilters(candidates) {
		part, err := r.LoadHistory(ctx, f)
		if err != nil {
			return domain.History{}, err
		}
		h.Merge(part)
	}
	return h, nil
}

func neighbourhoodFilters(candidates []domain.TrackedEntity) []HistoryFilter {
	var (
		groups     []string
		dependents []domain.Kind
	)
	identities := map[domain.Kind][]string{}
	naturals := map[domain.Kind][]string{}
	for _, v := range candidates {
		if v.VersionGroupID != "" && v.VersionGroupID != pendingRef {
			groups = appendUnique(groups, v.VersionGroupID)
		}
		identities[v.Kind] = appendUnique(identities[v.Kind], v.IdentityKey)
		if v.NaturalKey != "" {
			naturals[v.Kind] = appendUnique(naturals[v.Kind], v.NaturalKey)
		}
		if v.IsDelete() {
			for _, dep := range domain.Dependents(v.Kind) {
				dependents = appendUnique(dependents, dep.Kind)
			}
		}
	}

	var filters []HistoryFilter
	if len(groups) > 0 {
		filters = append(filters, HistoryFilter{GroupIDs: groups})
	}
	for _, kind := range slices.Sorted(maps.Keys(identities)) {
		filters = append(filters, HistoryFilter{Kinds: []domain.Kind{kind}, IdentityKeys: identities[kind]})
	}
	for _, kind := range slices.Sorted(maps.Keys(naturals)) {
		filters = append(filters, HistoryFilter{Kinds: []domain.Kind{kind}, NaturalKeys: naturals[kind]})
	}
	if len(dependents) > 0 {
		filters = append(filters, HistoryFilter{Kinds: dependents})
	}
	return filters
}

func appendUnique[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// chainView tracks the latest visible version of each group while candidates are admitted in order.
type chainView struct {
	latest map[string]domain.TrackedEntity
}

func newChainView(h domain.History, anchor *domain.Transaction) *chainView {
	latest := map[string]domain.TrackedEntity{}
	for _, v := range h.LatestPerGroup(anchor) {
		latest[v.VersionGroupID] = v
	}
	return &chainView{latest: latest}
}

// admit validates v against the view and records it as its group's latest version.
func (c *chainView) admit(v domain.TrackedEntity) error {
	if err := c.check(v); err != nil {
		return fmt.Errorf("%s %s: %w", v.Kind, v.IdentityKey, err)
	}
	c.latest[v.VersionGroupID] = v
	return nil
}

func (c *chainView) check(v domain.TrackedEntity) error {
	cur, exists := c.latest[v.VersionGroupID]
	if v.UpdateType == domain.UpdateCreate {
		if exists {
			return domain.OrderingError(domain.ErrStalePredecessor)
		}
		for groupID, other := range c.latest {
			if groupID != v.VersionGroupID && other.Kind == v.Kind && other.IdentityKey == v.IdentityKey && !other.IsDelete() {
				return domain.ValidationError(domain.ErrDuplicateIdentity)
			}
		}
	} else {
		switch {
		case !exists:
			return domain.OrderingError(domain.ErrStalePredecessor)
		case cur.IsDelete():
			return domain.OrderingError(domain.ErrVersionAfterDelete)
		case cur.ID != v.PredecessorID:
			return domain.OrderingError(domain.ErrStalePredecessor)
		case cur.IdentityKey != v.IdentityKey:
			return domain.ValidationError(domain.ErrIdentityChanged)
		}
	}

	if v.NaturalKey != "" && !v.IsDelete() {
		for groupID, other := range c.latest {
			if groupID == v.VersionGroupID || other.IsDelete() {
				continue
			}
			if other.Kind == v.Kind && other.NaturalKey == v.NaturalKey && other.Validity.Overlaps(v.Validity) {
				return domain.ValidationError(domain.ErrOverlappingValidity)
			}
		}
	}

	if v.IsDelete() {
		for _, other := range c.latest {
			if other.IsDelete() || other.VersionGroupID == v.VersionGroupID {
				continue
			}
			if references(other, v.Kind, v.IdentityKey) {
				return domain.ValidationError(domain.ErrReferencedByDependent)
			}
		}
	}
	return nil
}

// references reports whether v points at the entity of kind with identityKey.
func references(v domain.TrackedEntity, kind domain.Kind, identityKey string) bool {
	spec, err := domain.LookupKind(v.Kind)
	if err != nil || len(spec.References) == 0 {
		return false
	}
	fields, err := v.Fields()
	if err != nil {
		return false
	}
	for _, ref := range spec.ReferencesOf(fields) {
		if ref.Target == kind && ref.IdentityKey == identityKey {
			return true
		}
	}
	return false
}
