package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uktrade/tamato/internal/domain"
)

// Lens selects which versions of each group a query resolves to.
type Lens string

// LensLatestApproved and related constants define the query lenses.
const (
	LensLatestApproved   Lens = "latest_approved"
	LensLatestDeleted    Lens = "latest_deleted"
	LensApprovedUpTo     Lens = "approved_up_to_transaction"
	LensVersionsUpTo     Lens = "versions_up_to"
	LensSinceTransaction Lens = "since_transaction"
)

// ParseLens parses a lens name; empty input selects latest_approved.
func ParseLens(raw string) (Lens, error) {
	lens := Lens(strings.ToLower(strings.TrimSpace(raw)))
	switch lens {
	case "":
		return LensLatestApproved, nil
	case LensLatestApproved, LensLatestDeleted, LensApprovedUpTo, LensVersionsUpTo, LensSinceTransaction:
		return lens, nil
	default:
		return "", fmt.Errorf("%w: unknown lens %q", ErrInvalidQuery, raw)
	}
}

// Effect selects a validity relation to the query date.
type Effect string

// EffectInEffect and related constants define validity filters.
const (
	EffectInEffect         Effect = "in_effect"
	EffectNotInEffect      Effect = "not_in_effect"
	EffectNotYetInEffect   Effect = "not_yet_in_effect"
	EffectNoLongerInEffect Effect = "no_longer_in_effect"
)

// ParseEffect parses a validity filter name; empty input selects in_effect.
func ParseEffect(raw string) (Effect, error) {
	effect := Effect(strings.ToLower(strings.TrimSpace(raw)))
	switch effect {
	case "":
		return EffectInEffect, nil
	case EffectInEffect, EffectNotInEffect, EffectNotYetInEffect, EffectNoLongerInEffect:
		return effect, nil
	default:
		return "", fmt.Errorf("%w: unknown validity filter %q", ErrInvalidQuery, raw)
	}
}

// Query holds input values for version queries.
type Query struct {
	Lens Lens
	// Kind restricts results to one kind; empty queries every kind.
	Kind domain.Kind
	// Identity must carry every identifying field of Kind when set.
	Identity map[string]string
	// TransactionID anchors approved_up_to_transaction and versions_up_to.
	TransactionID string
	// SinceOrder is the checkpoint for since_transaction.
	SinceOrder int64
	// AsAt applies a validity filter on the given date.
	AsAt   *time.Time
	Effect Effect
}

// QueryResult holds the versions a query resolved to.
type QueryResult struct {
	Lens     Lens
	Anchor   *domain.Transaction
	Versions []domain.TrackedEntity
}

// Query resolves versions through the requested lens and optional validity filter.
func (s *Service) Query(ctx context.Context, q Query) (QueryResult, error) {
	started := s.clock()
	lens, err := ParseLens(string(q.Lens))
	if err != nil {
		return QueryResult{}, err
	}
	filter, err := historyFilterFor(q)
	if err != nil {
		return QueryResult{}, err
	}

	var anchor *domain.Transaction
	if lens == LensApprovedUpTo || lens == LensVersionsUpTo {
		if strings.TrimSpace(q.TransactionID) == "" {
			if lens == LensVersionsUpTo {
				return QueryResult{}, fmt.Errorf("%w: transaction is required", ErrInvalidQuery)
			}
			lens = LensLatestApproved
		} else {
			tx, err := s.queryAnchor(ctx, q.TransactionID)
			if err != nil {
				return QueryResult{}, err
			}
			anchor = &tx
		}
	}
	if lens == LensSinceTransaction {
		filter.AfterOrder = q.SinceOrder
		filter.ApprovedOnly = true
	}

	h, err := s.repo.LoadHistory(ctx, filter)
	if err != nil {
		return QueryResult{}, err
	}

	var versions []domain.TrackedEntity
	switch lens {
	case LensLatestApproved:
		versions = withoutDeletes(h.LatestPerGroup(nil))
	case LensLatestDeleted:
		versions = onlyDeletes(h.LatestPerGroup(nil))
	case LensApprovedUpTo:
		versions = withoutDeletes(h.LatestPerGroup(anchor))
	case LensVersionsUpTo:
		versions = h.VisibleVersions(anchor)
	case LensSinceTransaction:
		versions = h.VisibleVersions(nil)
	}

	if q.AsAt != nil {
		effect, err := ParseEffect(string(q.Effect))
		if err != nil {
			return QueryResult{}, err
		}
		versions = filterEffect(versions, *q.AsAt, effect)
	}
	s.metrics.ObserveQuery(string(lens), s.clock().Sub(started).Seconds())
	return QueryResult{Lens: lens, Anchor: anchor, Versions: versions}, nil
}

// LatestApproved returns the highest-order approved version of each group, excluding deletions.
func (s *Service) LatestApproved(ctx context.Context, kind domain.Kind) ([]domain.TrackedEntity, error) {
	res, err := s.Query(ctx, Query{Lens: LensLatestApproved, Kind: kind})
	return res.Versions, err
}

// LatestDeleted returns groups whose latest approved version is a DELETE.
func (s *Service) LatestDeleted(ctx context.Context, kind domain.Kind) ([]domain.TrackedEntity, error) {
	res, err := s.Query(ctx, Query{Lens: LensLatestDeleted, Kind: kind})
	return res.Versions, err
}

// ApprovedUpToTransaction returns, per group, the latest version visible from the transaction.
func (s *Service) ApprovedUpToTransaction(ctx context.Context, kind domain.Kind, transactionID string) ([]domain.TrackedEntity, error) {
	res, err := s.Query(ctx, Query{Lens: LensApprovedUpTo, Kind: kind, TransactionID: transactionID})
	return res.Versions, err
}

// VersionsUpTo returns every version visible from the transaction, not only the latest.
func (s *Service) VersionsUpTo(ctx context.Context, kind domain.Kind, transactionID string) ([]domain.TrackedEntity, error) {
	res, err := s.Query(ctx, Query{Lens: LensVersionsUpTo, Kind: kind, TransactionID: transactionID})
	return res.Versions, err
}

// AsAt returns current versions whose validity contains date, seen from transactionID or the approved view.
func (s *Service) AsAt(ctx context.Context, kind domain.Kind, date time.Time, transactionID string) ([]domain.TrackedEntity, error) {
	lens := LensLatestApproved
	if strings.TrimSpace(transactionID) != "" {
		lens = LensApprovedUpTo
	}
	res, err := s.Query(ctx, Query{Lens: lens, Kind: kind, TransactionID: transactionID, AsAt: &date, Effect: EffectInEffect})
	return res.Versions, err
}

// AsAtToday is AsAt for the service clock's current date.
func (s *Service) AsAtToday(ctx context.Context, kind domain.Kind) ([]domain.TrackedEntity, error) {
	return s.AsAt(ctx, kind, domain.Day(s.clock()), "")
}

// SinceTransaction returns approved versions with order greater than the checkpoint.
func (s *Service) SinceTransaction(ctx context.Context, sinceOrder int64) ([]domain.TrackedEntity, error) {
	res, err := s.Query(ctx, Query{Lens: LensSinceTransaction, SinceOrder: sinceOrder})
	return res.Versions, err
}

// VersionHistory returns every version of a group in transaction order, whatever its approval state.
func (s *Service) VersionHistory(ctx context.Context, groupID string) ([]domain.TrackedEntity, error) {
	if _, err := s.repo.GetVersionGroup(ctx, groupID); err != nil {
		return nil, err
	}
	h, err := s.repo.LoadHistory(ctx, HistoryFilter{GroupIDs: []string{groupID}})
	if err != nil {
		return nil, err
	}
	return h.GroupVersions(groupID), nil
}

// Versions returns every version of the entity with the given identifying values.
func (s *Service) Versions(ctx context.Context, kind domain.Kind, identity map[string]string) ([]domain.TrackedEntity, error) {
	if identity == nil {
		identity = map[string]string{}
	}
	filter, err := historyFilterFor(Query{Kind: kind, Identity: identity})
	if err != nil {
		return nil, err
	}
	h, err := s.repo.LoadHistory(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := append([]domain.TrackedEntity(nil), h.Versions...)
	h.SortByOrder(out)
	return out, nil
}

// FirstVersion returns the earliest recorded version of an entity.
func (s *Service) FirstVersion(ctx context.Context, kind domain.Kind, identity map[string]string) (domain.TrackedEntity, error) {
	versions, err := s.Versions(ctx, kind, identity)
	if err != nil {
		return domain.TrackedEntity{}, err
	}
	if len(versions) == 0 {
		return domain.TrackedEntity{}, ErrNotFound
	}
	return versions[0], nil
}

// LatestVersion returns the latest approved, non-deleted version of an entity.
func (s *Service) LatestVersion(ctx context.Context, kind domain.Kind, identity map[string]string) (domain.TrackedEntity, error) {
	res, err := s.Query(ctx, Query{Lens: LensLatestApproved, Kind: kind, Identity: identity})
	if err != nil {
		return domain.TrackedEntity{}, err
	}
	if len(res.Versions) == 0 {
		return domain.TrackedEntity{}, ErrNotFound
	}
	return res.Versions[len(res.Versions)-1], nil
}

// GetVersionGroup returns a version group with its current version pointer.
func (s *Service) GetVersionGroup(ctx context.Context, id string) (domain.VersionGroup, error) {
	return s.repo.GetVersionGroup(ctx, id)
}

// queryAnchor loads a transaction and checks its workbasket may anchor queries.
func (s *Service) queryAnchor(ctx context.Context, transactionID string) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	wb, err := s.repo.GetWorkbasket(ctx, tx.WorkbasketID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !wb.IsQueryAnchor() {
		return domain.Transaction{}, fmt.Errorf("transaction %s in %s workbasket %s: %w", tx.ID, wb.Status, wb.ID, ErrNotQueryable)
	}
	return tx, nil
}

// historyFilterFor validates the kind and identity selectors before storage is touched.
func historyFilterFor(q Query) (HistoryFilter, error) {
	filter := HistoryFilter{}
	if q.Kind == "" {
		if len(q.Identity) > 0 {
			return HistoryFilter{}, fmt.Errorf("%w: identity lookup requires a kind", ErrInvalidQuery)
		}
		return filter, nil
	}
	spec, err := domain.LookupKind(q.Kind)
	if err != nil {
		return HistoryFilter{}, err
	}
	filter.Kinds = []domain.Kind{spec.Kind}
	if q.Identity != nil {
		key, err := spec.LookupKey(q.Identity)
		if err != nil {
			return HistoryFilter{}, err
		}
		filter.IdentityKeys = []string{key}
	}
	return filter, nil
}

func withoutDeletes(in []domain.TrackedEntity) []domain.TrackedEntity {
	out := make([]domain.TrackedEntity, 0, len(in))
	for _, v := range in {
		if !v.IsDelete() {
			out = append(out, v)
		}
	}
	return out
}

func onlyDeletes(in []domain.TrackedEntity) []domain.TrackedEntity {
	out := make([]domain.TrackedEntity, 0, len(in))
	for _, v := range in {
		if v.IsDelete() {
			out = append(out, v)
		}
	}
	return out
}

func filterEffect(in []domain.TrackedEntity, at time.Time, effect Effect) []domain.TrackedEntity {
	out := make([]domain.TrackedEntity, 0, len(in))
	for _, v := range in {
		var keep bool
		switch effect {
		case EffectNotInEffect:
			keep = !v.Validity.Contains(at)
		case EffectNotYetInEffect:
			keep = v.Validity.NotYetInEffect(at)
		case EffectNoLongerInEffect:
			keep = v.Validity.NoLongerInEffect(at)
		default:
			keep = v.Validity.Contains(at)
		}
		if keep {
			out = append(out, v)
		}
	}
	return out
}
