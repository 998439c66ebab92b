package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service workflow, version and export APIs.
type AppServiceAdapter struct {
	service *app.Service
}

var _ TariffService = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListWorkbaskets lists workbaskets, optionally restricted to the named statuses.
func (a *AppServiceAdapter) ListWorkbaskets(ctx context.Context, in ListWorkbasketsRequest) ([]Workbasket, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	statuses := make([]domain.WorkbasketStatus, 0, len(in.Statuses))
	for _, raw := range in.Statuses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		status, err := domain.ParseWorkbasketStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("list workbaskets: %w", errors.Join(ErrInvalidRequest, err))
		}
		statuses = append(statuses, status)
	}
	rows, err := a.service.ListWorkbaskets(ctx, statuses...)
	if err != nil {
		return nil, mapAppError("list workbaskets", err)
	}
	out := make([]Workbasket, 0, len(rows))
	for _, wb := range rows {
		out = append(out, mapWorkbasket(wb))
	}
	return out, nil
}

// GetWorkbasket returns one workbasket by id.
func (a *AppServiceAdapter) GetWorkbasket(ctx context.Context, id string) (Workbasket, error) {
	if err := a.ready(); err != nil {
		return Workbasket{}, err
	}
	wb, err := a.service.GetWorkbasket(ctx, strings.TrimSpace(id))
	if err != nil {
		return Workbasket{}, mapAppError("get workbasket", err)
	}
	return mapWorkbasket(wb), nil
}

// CreateWorkbasket opens one EDITING workbasket.
func (a *AppServiceAdapter) CreateWorkbasket(ctx context.Context, in CreateWorkbasketRequest) (Workbasket, error) {
	if err := a.ready(); err != nil {
		return Workbasket{}, err
	}
	wb, err := a.service.CreateWorkbasket(ctx, app.CreateWorkbasketInput{
		Title:  in.Title,
		Reason: in.Reason,
		Author: in.Author,
	})
	if err != nil {
		return Workbasket{}, mapAppError("create workbasket", err)
	}
	return mapWorkbasket(wb), nil
}

// TransitionWorkbasket applies one named workflow transition.
func (a *AppServiceAdapter) TransitionWorkbasket(ctx context.Context, in TransitionRequest) (Workbasket, error) {
	if err := a.ready(); err != nil {
		return Workbasket{}, err
	}
	id := strings.TrimSpace(in.WorkbasketID)
	if id == "" {
		return Workbasket{}, fmt.Errorf("transition workbasket: workbasket id is required: %w", ErrInvalidRequest)
	}
	action := strings.ToLower(strings.TrimSpace(in.Action))

	var (
		wb  domain.Workbasket
		err error
	)
	switch action {
	case TransitionSubmit:
		wb, err = a.service.SubmitWorkbasket(ctx, id)
	case TransitionWithdraw:
		wb, err = a.service.WithdrawWorkbasket(ctx, id)
	case TransitionApprove:
		wb, err = a.service.ApproveWorkbasket(ctx, id, in.Approver)
	case TransitionSend:
		wb, err = a.service.SendWorkbasket(ctx, id)
	case TransitionPublish:
		wb, err = a.service.PublishWorkbasket(ctx, id)
	case TransitionError:
		wb, err = a.service.MarkWorkbasketErrored(ctx, id, in.Reason)
	case TransitionRestore:
		wb, err = a.service.RestoreWorkbasket(ctx, id)
	case TransitionArchive:
		wb, err = a.service.ArchiveWorkbasket(ctx, id)
	case TransitionUnarchive:
		wb, err = a.service.UnarchiveWorkbasket(ctx, id)
	default:
		return Workbasket{}, fmt.Errorf("transition workbasket: unknown action %q: %w", in.Action, ErrInvalidRequest)
	}
	if err != nil {
		return Workbasket{}, mapAppError(action+" workbasket", err)
	}
	return mapWorkbasket(wb), nil
}

// DiscardWorkbasket deletes a never-submitted workbasket and its content.
func (a *AppServiceAdapter) DiscardWorkbasket(ctx context.Context, id string) error {
	if err := a.ready(); err != nil {
		return err
	}
	if err := a.service.DiscardWorkbasket(ctx, strings.TrimSpace(id)); err != nil {
		return mapAppError("discard workbasket", err)
	}
	return nil
}

// ListTransactions lists one workbasket's transactions in order.
func (a *AppServiceAdapter) ListTransactions(ctx context.Context, workbasketID string) ([]Transaction, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	rows, err := a.service.ListTransactions(ctx, strings.TrimSpace(workbasketID))
	if err != nil {
		return nil, mapAppError("list transactions", err)
	}
	out := make([]Transaction, 0, len(rows))
	for _, tx := range rows {
		out = append(out, mapTransaction(tx))
	}
	return out, nil
}

// Commit records one batch of changes as a new transaction.
func (a *AppServiceAdapter) Commit(ctx context.Context, in CommitRequest) (CommitResult, error) {
	if err := a.ready(); err != nil {
		return CommitResult{}, err
	}
	changes := make([]app.ChangeInput, 0, len(in.Changes))
	for i, change := range in.Changes {
		parsed, err := parseChange(change)
		if err != nil {
			return CommitResult{}, fmt.Errorf("commit: change %d: %w", i, err)
		}
		changes = append(changes, parsed)
	}
	result, err := a.service.Commit(ctx, app.CommitInput{
		WorkbasketID: strings.TrimSpace(in.WorkbasketID),
		Changes:      changes,
	})
	if err != nil {
		return CommitResult{}, mapAppError("commit", err)
	}
	return CommitResult{
		Transaction: mapTransaction(result.Transaction),
		Versions:    mapVersions(result.Versions),
	}, nil
}

// QueryVersions resolves versions through one query lens.
func (a *AppServiceAdapter) QueryVersions(ctx context.Context, in QueryRequest) (QueryResult, error) {
	if err := a.ready(); err != nil {
		return QueryResult{}, err
	}
	q := app.Query{
		Lens:          app.Lens(in.Lens),
		Identity:      in.Identity,
		TransactionID: strings.TrimSpace(in.TransactionID),
		SinceOrder:    in.SinceOrder,
		Effect:        app.Effect(in.Effect),
	}
	if strings.TrimSpace(in.Kind) != "" {
		kind, err := domain.ParseKind(in.Kind)
		if err != nil {
			return QueryResult{}, fmt.Errorf("query versions: %w", errors.Join(ErrInvalidRequest, err))
		}
		q.Kind = kind
	}
	if strings.TrimSpace(in.AsAt) != "" {
		day, err := domain.ParseDay(in.AsAt)
		if err != nil {
			return QueryResult{}, fmt.Errorf("query versions: as_at: %w", errors.Join(ErrInvalidRequest, err))
		}
		q.AsAt = &day
	}
	result, err := a.service.Query(ctx, q)
	if err != nil {
		return QueryResult{}, mapAppError("query versions", err)
	}
	out := QueryResult{
		Lens:     string(result.Lens),
		Count:    len(result.Versions),
		Versions: mapVersions(result.Versions),
	}
	if result.Anchor != nil {
		anchor := mapTransaction(*result.Anchor)
		out.Anchor = &anchor
	}
	return out, nil
}

// VersionHistory lists every version of one group in order.
func (a *AppServiceAdapter) VersionHistory(ctx context.Context, groupID string) ([]Version, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	rows, err := a.service.VersionHistory(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return nil, mapAppError("version history", err)
	}
	return mapVersions(rows), nil
}

// ListKinds describes the registered tracked kinds.
func (a *AppServiceAdapter) ListKinds(context.Context) ([]Kind, error) {
	specs := domain.Kinds()
	out := make([]Kind, 0, len(specs))
	for _, spec := range specs {
		refs := make([]string, 0, len(spec.References))
		for _, ref := range spec.References {
			refs = append(refs, string(ref.Target))
		}
		out = append(out, Kind{
			Kind:          string(spec.Kind),
			Description:   spec.Description,
			RecordCode:    spec.RecordCode,
			SubrecordCode: spec.SubrecordCode,
			Identifying:   append([]string(nil), spec.Identifying...),
			NaturalKey:    append([]string(nil), spec.NaturalKey...),
			References:    refs,
		})
	}
	return out, nil
}

// ExportEnvelope renders approved history after a checkpoint with its sha256 digest.
func (a *AppServiceAdapter) ExportEnvelope(ctx context.Context, in ExportRequest) (Envelope, error) {
	if err := a.ready(); err != nil {
		return Envelope{}, err
	}
	if in.SinceOrder < 0 {
		return Envelope{}, fmt.Errorf("export envelope: since_order must be >= 0: %w", ErrInvalidRequest)
	}
	env, err := a.service.ExportEnvelope(ctx, in.SinceOrder)
	if err != nil {
		return Envelope{}, mapAppError("export envelope", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	sum := sha256.Sum256(body)
	return Envelope{Digest: hex.EncodeToString(sum[:]), Body: body}, nil
}

// ready reports whether the adapter was built over a service.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// parseChange converts one transport change into app input.
func parseChange(in Change) (app.ChangeInput, error) {
	kind, err := domain.ParseKind(in.Kind)
	if err != nil {
		return app.ChangeInput{}, errors.Join(ErrInvalidRequest, err)
	}
	update, err := domain.ParseUpdateType(in.UpdateType)
	if err != nil {
		return app.ChangeInput{}, errors.Join(ErrInvalidRequest, err)
	}
	validity, err := domain.ParseValidity(in.ValidFrom, in.ValidTo)
	if err != nil {
		return app.ChangeInput{}, mapAppError("validity", err)
	}
	return app.ChangeInput{
		Kind:           kind,
		UpdateType:     update,
		PredecessorID:  strings.TrimSpace(in.PredecessorID),
		VersionGroupID: strings.TrimSpace(in.VersionGroupID),
		Validity:       validity,
		Payload:        in.Payload,
	}, nil
}

// mapWorkbasket converts one domain workbasket into its transport view.
func mapWorkbasket(wb domain.Workbasket) Workbasket {
	next := domain.NextStatuses(wb.Status)
	names := make([]string, 0, len(next))
	for _, status := range next {
		names = append(names, string(status))
	}
	return Workbasket{
		ID:            wb.ID,
		Title:         wb.Title,
		Reason:        wb.Reason,
		Author:        wb.Author,
		Approver:      wb.Approver,
		Status:        string(wb.Status),
		FailureReason: wb.FailureReason,
		EnvelopeID:    wb.EnvelopeID,
		NextStatuses:  names,
		CreatedAt:     wb.CreatedAt,
		UpdatedAt:     wb.UpdatedAt,
		SubmittedAt:   cloneTime(wb.SubmittedAt),
	}
}

func mapTransaction(tx domain.Transaction) Transaction {
	return Transaction{
		ID:           tx.ID,
		WorkbasketID: tx.WorkbasketID,
		Order:        tx.Order,
		Partition:    string(tx.Partition),
		CreatedAt:    tx.CreatedAt,
	}
}

func mapVersions(in []domain.TrackedEntity) []Version {
	out := make([]Version, 0, len(in))
	for _, v := range in {
		out = append(out, Version{
			ID:             v.ID,
			Kind:           string(v.Kind),
			VersionGroupID: v.VersionGroupID,
			TransactionID:  v.TransactionID,
			PredecessorID:  v.PredecessorID,
			UpdateType:     string(v.UpdateType),
			ValidFrom:      v.Validity.StartString(),
			ValidTo:        v.Validity.EndString(),
			IdentityKey:    v.IdentityKey,
			Payload:        append(json.RawMessage(nil), v.Payload...),
			CreatedAt:      v.CreatedAt,
		})
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// mapAppError maps app and domain errors into transport error categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrApprovalDenied):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrForbidden, err))
	case errors.Is(err, app.ErrSinkNotConfigured):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrValidationFailed, err))
	case errors.Is(err, domain.ErrOrdering),
		errors.Is(err, app.ErrConcurrentUpdate),
		errors.Is(err, app.ErrNotQueryable),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotEditable),
		errors.Is(err, domain.ErrNotDiscardable),
		errors.Is(err, domain.ErrSeedAfterRevision):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidUpdateType),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrApproverRequired),
		errors.Is(err, app.ErrEmptyChangeSet),
		errors.Is(err, app.ErrInvalidQuery):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
