package app

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/uktrade/tamato/internal/domain"
)

// Envelope is an ordered, replayable batch of approved transactions.
type Envelope struct {
	ID           string                `json:"id"`
	SinceOrder   int64                 `json:"since_order"`
	LastOrder    int64                 `json:"last_order"`
	GeneratedAt  time.Time             `json:"generated_at"`
	Transactions []EnvelopeTransaction `json:"transactions"`
}

// EnvelopeTransaction is one transaction inside an envelope.
type EnvelopeTransaction struct {
	ID           string           `json:"id"`
	Order        int64            `json:"order"`
	Partition    domain.Partition `json:"partition"`
	WorkbasketID string           `json:"workbasket_id"`
	Records      []EnvelopeRecord `json:"records"`
}

// EnvelopeRecord is one version rendered with its TARIC record codes.
type EnvelopeRecord struct {
	RecordCode     string          `json:"record_code"`
	SubrecordCode  string          `json:"subrecord_code"`
	UpdateType     int             `json:"update_type"`
	Kind           domain.Kind     `json:"kind"`
	VersionID      string          `json:"version_id"`
	VersionGroupID string          `json:"version_group_id"`
	ValidFrom      string          `json:"valid_from"`
	ValidTo        string          `json:"valid_to,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// ExportEnvelope assembles every approved transaction with order greater than sinceOrder.
func (s *Service) ExportEnvelope(ctx context.Context, sinceOrder int64) (Envelope, error) {
	h, err := s.repo.LoadHistory(ctx, HistoryFilter{AfterOrder: sinceOrder, ApprovedOnly: true})
	if err != nil {
		return Envelope{}, err
	}
	env, err := buildEnvelope(s.idGen(), sinceOrder, h, s.clock())
	if err != nil {
		return Envelope{}, err
	}
	s.logger.Info("envelope exported", "envelope_id", env.ID, "since_order", sinceOrder, "last_order", env.LastOrder, "transactions", len(env.Transactions))
	return env, nil
}

// EnvelopeKey returns the sink key used when a workbasket is sent.
func EnvelopeKey(workbasketID string) string {
	return "envelopes/workbasket-" + workbasketID + ".json"
}

// SendWorkbasket hands an APPROVED workbasket's transactions to the envelope sink and marks it SENT.
// Sending an already SENT or PUBLISHED workbasket returns it unchanged. A sink
// failure moves the workbasket to ERRORED with the failure retained.
func (s *Service) SendWorkbasket(ctx context.Context, id string) (domain.Workbasket, error) {
	wb, err := s.repo.GetWorkbasket(ctx, id)
	if err != nil {
		return domain.Workbasket{}, err
	}
	if alreadySent(wb) {
		s.logger.Debug("workbasket already sent", "workbasket_id", id, "envelope_id", wb.EnvelopeID)
		return wb, nil
	}
	if wb.Status != domain.StatusApproved {
		return domain.Workbasket{}, fmt.Errorf("workbasket %s in %s: %w", id, wb.Status, domain.ErrInvalidTransition)
	}
	if s.sink == nil {
		return domain.Workbasket{}, ErrSinkNotConfigured
	}

	h, err := s.repo.LoadHistory(ctx, HistoryFilter{WorkbasketID: id})
	if err != nil {
		return domain.Workbasket{}, err
	}
	envelopeID := "workbasket-" + id
	env, err := buildEnvelope(envelopeID, 0, h, s.clock())
	if err != nil {
		return domain.Workbasket{}, err
	}
	body, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return domain.Workbasket{}, fmt.Errorf("encode envelope: %w", err)
	}
	existed, err := s.sink.Put(ctx, EnvelopeKey(id), body)
	if err != nil {
		s.logger.Error("envelope handoff failed", "workbasket_id", id, "err", err)
		if _, markErr := s.MarkWorkbasketErrored(ctx, id, "send: "+err.Error()); markErr != nil {
			return domain.Workbasket{}, fmt.Errorf("send workbasket %s: %w (mark errored: %v)", id, err, markErr)
		}
		return domain.Workbasket{}, fmt.Errorf("send workbasket %s: %w", id, err)
	}
	if existed {
		s.logger.Warn("envelope already present in sink", "workbasket_id", id, "key", EnvelopeKey(id))
	}

	return s.transition(ctx, id, func(wb *domain.Workbasket, now time.Time) error {
		if alreadySent(*wb) {
			return errAlreadyApplied
		}
		return wb.MarkSent(envelopeID, now)
	}, nil)
}

func alreadySent(wb domain.Workbasket) bool {
	return wb.Status == domain.StatusSent || wb.Status == domain.StatusPublished
}

// buildEnvelope groups versions by transaction in order and sorts records by record code.
func buildEnvelope(id string, sinceOrder int64, h domain.History, now time.Time) (Envelope, error) {
	byTx := map[string][]domain.TrackedEntity{}
	for _, v := range h.Versions {
		byTx[v.TransactionID] = append(byTx[v.TransactionID], v)
	}
	txs := make([]domain.Transaction, 0, len(byTx))
	for txID := range byTx {
		txs = append(txs, h.Transactions[txID])
	}
	domain.SortTransactions(txs)

	env := Envelope{
		ID:           id,
		SinceOrder:   sinceOrder,
		LastOrder:    sinceOrder,
		GeneratedAt:  now.UTC(),
		Transactions: make([]EnvelopeTransaction, 0, len(txs)),
	}
	type keyedRecord struct {
		sortKey string
		EnvelopeRecord
	}
	for _, tx := range txs {
		keyed := make([]keyedRecord, 0, len(byTx[tx.ID]))
		for _, v := range byTx[tx.ID] {
			spec, err := domain.LookupKind(v.Kind)
			if err != nil {
				return Envelope{}, err
			}
			keyed = append(keyed, keyedRecord{spec.RecordSortKey(), EnvelopeRecord{
				RecordCode:     spec.RecordCode,
				SubrecordCode:  spec.SubrecordCode,
				UpdateType:     v.UpdateType.TaricCode(),
				Kind:           v.Kind,
				VersionID:      v.ID,
				VersionGroupID: v.VersionGroupID,
				ValidFrom:      v.Validity.StartString(),
				ValidTo:        v.Validity.EndString(),
				Payload:        v.Payload,
			}})
		}
		slices.SortFunc(keyed, func(a, b keyedRecord) int {
			if c := cmp.Compare(a.sortKey, b.sortKey); c != 0 {
				return c
			}
			return cmp.Compare(a.VersionID, b.VersionID)
		})
		records := make([]EnvelopeRecord, 0, len(keyed))
		for _, k := range keyed {
			records = append(records, k.EnvelopeRecord)
		}
		env.Transactions = append(env.Transactions, EnvelopeTransaction{
			ID:           tx.ID,
			Order:        tx.Order,
			Partition:    tx.Partition,
			WorkbasketID: tx.WorkbasketID,
			Records:      records,
		})
		env.LastOrder = max(env.LastOrder, tx.Order)
	}
	return env, nil
}
