package app

import (
	"context"

	"github.com/uktrade/tamato/internal/domain"
)

// WorkbasketFilter narrows workbasket listings.
type WorkbasketFilter struct {
	Statuses []domain.WorkbasketStatus
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	WorkbasketID string
	Partitions   []domain.Partition
	AfterOrder   int64
	ApprovedOnly bool
}

// HistoryFilter narrows the versions loaded into a History. Set fields are ANDed.
// Kinds, IdentityKeys, GroupIDs and NaturalKeys keep version groups whole;
// WorkbasketID, AfterOrder and ApprovedOnly select individual versions.
type HistoryFilter struct {
	Kinds        []domain.Kind
	IdentityKeys []string
	GroupIDs     []string
	// NaturalKeys selects groups with any version carrying one of these natural keys.
	NaturalKeys  []string
	WorkbasketID string
	AfterOrder   int64
	ApprovedOnly bool
}

// Reader exposes consistent reads over the version log.
type Reader interface {
	GetWorkbasket(context.Context, string) (domain.Workbasket, error)
	ListWorkbaskets(context.Context, WorkbasketFilter) ([]domain.Workbasket, error)
	GetTransaction(context.Context, string) (domain.Transaction, error)
	ListTransactions(context.Context, TransactionFilter) ([]domain.Transaction, error)
	GetVersionGroup(context.Context, string) (domain.VersionGroup, error)
	GetVersion(context.Context, string) (domain.TrackedEntity, error)
	// LoadHistory returns matching versions with their transactions and workbaskets from one snapshot.
	LoadHistory(context.Context, HistoryFilter) (domain.History, error)
}

// Writer mutates the version log inside one storage transaction.
type Writer interface {
	Reader
	// NextOrder atomically increments and returns the global transaction order counter.
	NextOrder(context.Context) (int64, error)
	CreateWorkbasket(context.Context, domain.Workbasket) error
	// UpdateWorkbasket stores wb only if the stored status still equals expected.
	UpdateWorkbasket(ctx context.Context, wb domain.Workbasket, expected domain.WorkbasketStatus) error
	// DeleteWorkbasket removes a workbasket with its transactions, versions and orphaned groups.
	DeleteWorkbasket(context.Context, string) error
	CreateTransaction(context.Context, domain.Transaction) error
	UpdateTransaction(context.Context, domain.Transaction) error
	CreateVersionGroup(context.Context, domain.VersionGroup) error
	SetCurrentVersion(ctx context.Context, groupID, versionID string) error
	CreateVersion(context.Context, domain.TrackedEntity) error
}

// Repository represents repository data used by this package.
type Repository interface {
	Reader
	// Atomic runs fn in one storage transaction, committing only when fn returns nil.
	Atomic(context.Context, func(Writer) error) error
	Close() error
}

// EnvelopeSink stores exported envelopes for downstream handoff.
type EnvelopeSink interface {
	// Put stores body under key unless the key already exists, reporting whether it did.
	Put(ctx context.Context, key string, body []byte) (existed bool, err error)
}

// Authorizer decides whether a user may approve a workbasket.
type Authorizer interface {
	AuthorizeApproval(ctx context.Context, wb domain.Workbasket, approver string) error
}

// EventLogger receives structured service events.
type EventLogger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Metrics receives service counters and timings.
type Metrics interface {
	ObserveTransition(from, to domain.WorkbasketStatus)
	ObserveVersions(kind domain.Kind, update domain.UpdateType, n int)
	ObserveQuery(lens string, seconds float64)
}
