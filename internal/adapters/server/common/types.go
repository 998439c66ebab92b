// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports workflow, ordering and concurrency failures.
var ErrConflict = errors.New("conflict")

// ErrValidationFailed reports business-rule rejections of submitted versions.
var ErrValidationFailed = errors.New("validation failed")

// ErrForbidden reports approval-policy denials.
var ErrForbidden = errors.New("forbidden")

// ErrUnavailable reports features whose backing adapter is not configured.
var ErrUnavailable = errors.New("unavailable")

// TransitionSubmit and related constants name the workbasket transitions exposed by transports.
const (
	TransitionSubmit    = "submit"
	TransitionWithdraw  = "withdraw"
	TransitionApprove   = "approve"
	TransitionSend      = "send"
	TransitionPublish   = "publish"
	TransitionError     = "error"
	TransitionRestore   = "restore"
	TransitionArchive   = "archive"
	TransitionUnarchive = "unarchive"
)

var supportedTransitions = []string{
	TransitionSubmit,
	TransitionWithdraw,
	TransitionApprove,
	TransitionSend,
	TransitionPublish,
	TransitionError,
	TransitionRestore,
	TransitionArchive,
	TransitionUnarchive,
}

// SupportedTransitions returns every transition name accepted by transport adapters.
func SupportedTransitions() []string {
	return append([]string(nil), supportedTransitions...)
}

// Workbasket is the transport view of one workbasket.
type Workbasket struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Reason        string     `json:"reason,omitempty"`
	Author        string     `json:"author,omitempty"`
	Approver      string     `json:"approver,omitempty"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	EnvelopeID    string     `json:"envelope_id,omitempty"`
	NextStatuses  []string   `json:"next_statuses"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
}

// Transaction is the transport view of one transaction.
type Transaction struct {
	ID           string    `json:"id"`
	WorkbasketID string    `json:"workbasket_id"`
	Order        int64     `json:"order"`
	Partition    string    `json:"partition"`
	CreatedAt    time.Time `json:"created_at"`
}

// Version is the transport view of one tracked entity version.
type Version struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	VersionGroupID string          `json:"version_group_id"`
	TransactionID  string          `json:"transaction_id"`
	PredecessorID  string          `json:"predecessor_id,omitempty"`
	UpdateType     string          `json:"update_type"`
	ValidFrom      string          `json:"valid_from"`
	ValidTo        string          `json:"valid_to,omitempty"`
	IdentityKey    string          `json:"identity_key"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Kind describes one registered tracked kind.
type Kind struct {
	Kind          string   `json:"kind"`
	Description   string   `json:"description"`
	RecordCode    string   `json:"record_code"`
	SubrecordCode string   `json:"subrecord_code"`
	Identifying   []string `json:"identifying"`
	NaturalKey    []string `json:"natural_key,omitempty"`
	References    []string `json:"references,omitempty"`
}

// CreateWorkbasketRequest stores transport input for workbasket creation.
type CreateWorkbasketRequest struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	Author string `json:"author"`
}

// ListWorkbasketsRequest filters workbasket listings by status names.
type ListWorkbasketsRequest struct {
	Statuses []string
}

// TransitionRequest stores transport input for one workbasket transition.
type TransitionRequest struct {
	WorkbasketID string `json:"-"`
	Action       string `json:"action"`
	// Approver is required by approve.
	Approver string `json:"approver,omitempty"`
	// Reason is recorded by error.
	Reason string `json:"reason,omitempty"`
}

// Change stores one requested version inside a commit.
type Change struct {
	Kind           string          `json:"kind"`
	UpdateType     string          `json:"update_type"`
	PredecessorID  string          `json:"predecessor_id,omitempty"`
	VersionGroupID string          `json:"version_group_id,omitempty"`
	ValidFrom      string          `json:"valid_from"`
	ValidTo        string          `json:"valid_to,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// CommitRequest stores transport input for one transaction commit.
type CommitRequest struct {
	WorkbasketID string   `json:"-"`
	Changes      []Change `json:"changes"`
}

// CommitResult returns the transaction and versions created by one commit.
type CommitResult struct {
	Transaction Transaction `json:"transaction"`
	Versions    []Version   `json:"versions"`
}

// QueryRequest stores transport input for version queries.
type QueryRequest struct {
	Lens          string            `json:"lens"`
	Kind          string            `json:"kind"`
	Identity      map[string]string `json:"identity,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	SinceOrder    int64             `json:"since_order,omitempty"`
	AsAt          string            `json:"as_at,omitempty"`
	Effect        string            `json:"effect,omitempty"`
}

// QueryResult returns the versions one query resolved to.
type QueryResult struct {
	Lens     string       `json:"lens"`
	Anchor   *Transaction `json:"anchor,omitempty"`
	Count    int          `json:"count"`
	Versions []Version    `json:"versions"`
}

// ExportRequest stores transport input for envelope exports.
type ExportRequest struct {
	SinceOrder int64 `json:"since_order"`
}

// Envelope returns one exported envelope with a content digest.
type Envelope struct {
	Digest string          `json:"digest"`
	Body   json.RawMessage `json:"envelope"`
}

// WorkbasketService exposes workbasket workflow operations.
type WorkbasketService interface {
	ListWorkbaskets(context.Context, ListWorkbasketsRequest) ([]Workbasket, error)
	GetWorkbasket(context.Context, string) (Workbasket, error)
	CreateWorkbasket(context.Context, CreateWorkbasketRequest) (Workbasket, error)
	TransitionWorkbasket(context.Context, TransitionRequest) (Workbasket, error)
	DiscardWorkbasket(context.Context, string) error
	ListTransactions(context.Context, string) ([]Transaction, error)
}

// VersionService exposes versioned writes and reads.
type VersionService interface {
	Commit(context.Context, CommitRequest) (CommitResult, error)
	QueryVersions(context.Context, QueryRequest) (QueryResult, error)
	VersionHistory(context.Context, string) ([]Version, error)
	ListKinds(context.Context) ([]Kind, error)
}

// ExportService exposes approved-history envelope exports.
type ExportService interface {
	ExportEnvelope(context.Context, ExportRequest) (Envelope, error)
}

// TariffService combines every transport-visible operation.
type TariffService interface {
	WorkbasketService
	VersionService
	ExportService
}
