package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uktrade/tamato/internal/domain"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	PartitionScheme domain.PartitionScheme
	Authorizer      Authorizer
	Sink            EnvelopeSink
	Logger          EventLogger
	Metrics         Metrics
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates workbasket workflow, versioned writes and queries.
type Service struct {
	repo       Repository
	idGen      IDGenerator
	clock      Clock
	scheme     domain.PartitionScheme
	authorizer Authorizer
	sink       EnvelopeSink
	logger     EventLogger
	metrics    Metrics
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.PartitionScheme == "" {
		cfg.PartitionScheme = domain.SchemeSeedFirst
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = DistinctApproverPolicy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Service{
		repo:       repo,
		idGen:      idGen,
		clock:      clock,
		scheme:     cfg.PartitionScheme,
		authorizer: cfg.Authorizer,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// CreateWorkbasketInput holds input values for create workbasket operations.
type CreateWorkbasketInput struct {
	Title  string
	Reason string
	Author string
}

// CreateWorkbasket creates an EDITING workbasket.
func (s *Service) CreateWorkbasket(ctx context.Context, in CreateWorkbasketInput) (domain.Workbasket, error) {
	wb, err := domain.NewWorkbasket(s.idGen(), in.Title, in.Reason, in.Author, s.clock())
	if err != nil {
		return domain.Workbasket{}, err
	}
	if err := s.repo.Atomic(ctx, func(w Writer) error {
		return w.CreateWorkbasket(ctx, wb)
	}); err != nil {
		return domain.Workbasket{}, err
	}
	s.logger.Info("workbasket created", "workbasket_id", wb.ID, "title", wb.Title)
	return wb, nil
}

// GetWorkbasket returns a workbasket by id.
func (s *Service) GetWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.repo.GetWorkbasket(ctx, id)
}

// ListWorkbaskets lists workbaskets, optionally restricted to statuses.
func (s *Service) ListWorkbaskets(ctx context.Context, statuses ...domain.WorkbasketStatus) ([]domain.Workbasket, error) {
	return s.repo.ListWorkbaskets(ctx, WorkbasketFilter{Statuses: statuses})
}

// ListTransactions lists a workbasket's transactions in order.
func (s *Service) ListTransactions(ctx context.Context, workbasketID string) ([]domain.Transaction, error) {
	if _, err := s.repo.GetWorkbasket(ctx, workbasketID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, TransactionFilter{WorkbasketID: workbasketID})
}

// SubmitWorkbasket proposes an EDITING workbasket for approval.
func (s *Service) SubmitWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.Submit(now)
	}, nil)
}

// WithdrawWorkbasket returns a PROPOSED workbasket to EDITING.
func (s *Service) WithdrawWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.Withdraw(now)
	}, s.relabelPartitions)
}

// PublishWorkbasket records downstream acceptance of a SENT workbasket.
func (s *Service) PublishWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.Publish(now)
	}, nil)
}

// MarkWorkbasketErrored moves a workbasket to ERRORED, withdrawing it from approved visibility.
func (s *Service) MarkWorkbasketErrored(ctx context.Context, id, reason string) (domain.Workbasket, error) {
	wb, err := s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.MarkErrored(reason, now)
	}, func(ctx context.Context, w Writer, prev, next domain.Workbasket) error {
		if err := s.relabelPartitions(ctx, w, prev, next); err != nil {
			return err
		}
		if !prev.IsApproved() {
			return nil
		}
		return s.refreshCurrentVersions(ctx, w, next.ID)
	})
	if err != nil {
		return domain.Workbasket{}, err
	}
	s.logger.Warn("workbasket errored", "workbasket_id", wb.ID, "reason", wb.FailureReason)
	return wb, nil
}

// RestoreWorkbasket returns an ERRORED workbasket to EDITING.
func (s *Service) RestoreWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.Restore(now)
	}, s.relabelPartitions)
}

// ArchiveWorkbasket shelves an EDITING workbasket.
func (s *Service) ArchiveWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.Archive(now)
	}, s.relabelPartitions)
}

// UnarchiveWorkbasket returns an ARCHIVED workbasket to EDITING.
func (s *Service) UnarchiveWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		return wb.Unarchive(now)
	}, s.relabelPartitions)
}

// DiscardWorkbasket physically removes a never-submitted workbasket and its content.
func (s *Service) DiscardWorkbasket(ctx context.Context, id string) error {
	err := s.repo.Atomic(ctx, func(w Writer) error {
		wb, err := w.GetWorkbasket(ctx, id)
		if err != nil {
			return err
		}
		if err := wb.CheckDiscard(); err != nil {
			return err
		}
		return w.DeleteWorkbasket(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("workbasket discarded", "workbasket_id", id)
	return nil
}

// ApproveWorkbasket approves a PROPOSED workbasket.
// The approver is authorized first. Inside one storage transaction the
// workbasket's transactions are re-sequenced after every existing order,
// its edits are re-validated against the approved view, partitions are
// labelled by the scheme, the status moves with the approver, and the
// current version of every touched group is recomputed.
func (s *Service) ApproveWorkbasket(ctx context.Context, id, approver string) (domain.Workbasket, error) {
	current, err := s.repo.GetWorkbasket(ctx, id)
	if err != nil {
		return domain.Workbasket{}, err
	}
	if err := s.authorizer.AuthorizeApproval(ctx, current, approver); err != nil {
		s.logger.Warn("approval denied", "workbasket_id", id, "approver", approver, "err", err)
		return domain.Workbasket{}, err
	}

	var approved domain.Workbasket
	err = s.repo.Atomic(ctx, func(w Writer) error {
		wb, err := w.GetWorkbasket(ctx, id)
		if err != nil {
			return err
		}
		prev := wb
		now := s.clock()
		if err := wb.Approve(approver, now); err != nil {
			return err
		}

		txs, err := w.ListTransactions(ctx, TransactionFilter{WorkbasketID: id})
		if err != nil {
			return err
		}
		// The first increment also serializes concurrent approvals on the counter.
		orders := make([]int64, 0, len(txs))
		for range max(len(txs), 1) {
			order, err := w.NextOrder(ctx)
			if err != nil {
				return err
			}
			orders = append(orders, order)
		}

		if err := s.validateApproval(ctx, w, id); err != nil {
			return err
		}

		state, err := s.partitionState(ctx, w, id)
		if err != nil {
			return err
		}
		partition, err := s.scheme.PartitionFor(wb.Status, state)
		if err != nil {
			return err
		}
		for i := range txs {
			if err := txs[i].Resequence(orders[i], now); err != nil {
				return err
			}
			if err := txs[i].SetPartition(partition, now); err != nil {
				return err
			}
			if err := w.UpdateTransaction(ctx, txs[i]); err != nil {
				return err
			}
		}

		if err := w.UpdateWorkbasket(ctx, wb, prev.Status); err != nil {
			return err
		}
		if err := s.refreshCurrentVersions(ctx, w, id); err != nil {
			return err
		}
		approved = wb
		return nil
	})
	if err != nil {
		return domain.Workbasket{}, err
	}
	s.metrics.ObserveTransition(domain.StatusProposed, domain.StatusApproved)
	s.logger.Info("workbasket approved", "workbasket_id", id, "approver", approved.Approver)
	return approved, nil
}

// transitionHook runs inside the transition's storage transaction after the status update.
type transitionHook func(ctx context.Context, w Writer, prev, next domain.Workbasket) error

// transition applies one state-machine step with a compare-and-set status update.
// A step returning errAlreadyApplied leaves storage untouched and yields the stored workbasket.
func (s *Service) transition(ctx context.Context, id string, apply func(*domain.Workbasket, time.Time) error, after transitionHook) (domain.Workbasket, error) {
	var (
		prev, next domain.Workbasket
		unchanged  bool
	)
	err := s.repo.Atomic(ctx, func(w Writer) error {
		wb, err := w.GetWorkbasket(ctx, id)
		if err != nil {
			return err
		}
		prev = wb
		if err := apply(&wb, s.clock()); err != nil {
			if errors.Is(err, errAlreadyApplied) {
				next, unchanged = prev, true
				return nil
			}
			return fmt.Errorf("workbasket %s in %s: %w", id, prev.Status, err)
		}
		if err := w.UpdateWorkbasket(ctx, wb, prev.Status); err != nil {
			return err
		}
		if after != nil {
			if err := after(ctx, w, prev, wb); err != nil {
				return err
			}
		}
		next = wb
		return nil
	})
	if err != nil {
		return domain.Workbasket{}, err
	}
	if unchanged {
		s.logger.Debug("workbasket transition already applied", "workbasket_id", id, "status", next.Status)
		return next, nil
	}
	s.metrics.ObserveTransition(prev.Status, next.Status)
	s.logger.Info("workbasket transition", "workbasket_id", id, "from", prev.Status, "to", next.Status)
	return next, nil
}

// relabelPartitions sets the partition of every transaction to the one the scheme maps the new status to.
func (s *Service) relabelPartitions(ctx context.Context, w Writer, _ domain.Workbasket, next domain.Workbasket) error {
	partition, err := s.scheme.PartitionFor(next.Status, domain.PartitionState{})
	if err != nil {
		return err
	}
	txs, err := w.ListTransactions(ctx, TransactionFilter{WorkbasketID: next.ID})
	if err != nil {
		return err
	}
	now := s.clock()
	for _, tx := range txs {
		if tx.Partition == partition {
			continue
		}
		if err := tx.SetPartition(partition, now); err != nil {
			return err
		}
		if err := w.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// partitionState summarizes existing approvals for the partition scheme.
func (s *Service) partitionState(ctx context.Context, w Writer, approvingID string) (domain.PartitionState, error) {
	approved, err := w.ListWorkbaskets(ctx, WorkbasketFilter{Statuses: domain.ApprovedStatuses()})
	if err != nil {
		return domain.PartitionState{}, err
	}
	state := domain.PartitionState{}
	for _, wb := range approved {
		if wb.ID != approvingID && wb.IsApproved() {
			state.OtherApproved = true
			break
		}
	}
	revisions, err := w.ListTransactions(ctx, TransactionFilter{Partitions: []domain.Partition{domain.PartitionRevision}})
	if err != nil {
		return domain.PartitionState{}, err
	}
	state.RevisionExists = len(revisions) > 0
	return state, nil
}

// refreshCurrentVersions recomputes the current version pointer of every group the workbasket touched.
func (s *Service) refreshCurrentVersions(ctx context.Context, w Writer, workbasketID string) error {
	own, err := w.LoadHistory(ctx, HistoryFilter{WorkbasketID: workbasketID})
	if err != nil {
		return err
	}
	groupIDs := groupIDsOf(own.Versions)
	if len(groupIDs) == 0 {
		return nil
	}
	h, err := w.LoadHistory(ctx, HistoryFilter{GroupIDs: groupIDs})
	if err != nil {
		return err
	}
	latest := map[string]string{}
	for _, v := range h.LatestPerGroup(nil) {
		latest[v.VersionGroupID] = v.ID
	}
	for _, groupID := range groupIDs {
		if err := w.SetCurrentVersion(ctx, groupID, latest[groupID]); err != nil {
			return err
		}
	}
	return nil
}

func groupIDsOf(versions []domain.TrackedEntity) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if _, ok := seen[v.VersionGroupID]; ok {
			continue
		}
		seen[v.VersionGroupID] = struct{}{}
		out = append(out, v.VersionGroupID)
	}
	return out
}
