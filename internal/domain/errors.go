package domain

import "errors"

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidKind       = errors.New("unknown tracked kind")
	ErrInvalidUpdateType = errors.New("invalid update type")
	ErrInvalidStatus     = errors.New("invalid workbasket status")
	ErrInvalidPartition  = errors.New("invalid transaction partition")
	ErrInvalidScheme     = errors.New("invalid partition scheme")
	ErrInvalidOrder      = errors.New("invalid transaction order")
	ErrInvalidTitle      = errors.New("invalid title")
	ErrInvalidPayload    = errors.New("invalid entity payload")
)

// ErrValidation groups errors raised when a version's own content is rejected.
var (
	ErrValidation              = errors.New("validation failed")
	ErrMissingIdentifyingValue = errors.New("missing identifying value")
	ErrInvalidValidity         = errors.New("invalid validity period")
	ErrOverlappingValidity     = errors.New("overlapping validity for natural key")
	ErrDuplicateIdentity       = errors.New("identifying values already in use")
	ErrIdentityChanged         = errors.New("identifying values differ from predecessor")
	ErrReferencedByDependent   = errors.New("entity is referenced by a current dependent")
)

// ErrOrdering groups errors raised when a version does not fit its group's chain.
var (
	ErrOrdering                = errors.New("ordering violation")
	ErrPredecessorMismatch     = errors.New("predecessor belongs to another version group")
	ErrMissingPredecessor      = errors.New("update requires a predecessor")
	ErrUnexpectedPredecessor   = errors.New("create must not have a predecessor")
	ErrStalePredecessor        = errors.New("predecessor is not the current version")
	ErrDuplicateOrder          = errors.New("transaction order already used")
	ErrVersionAfterDelete      = errors.New("version group already deleted")
	ErrGroupTwiceInTransaction = errors.New("version group changed twice in one transaction")
)

// ErrInvalidTransition and related errors describe workflow failures.
var (
	ErrInvalidTransition = errors.New("invalid workbasket transition")
	ErrApproverRequired  = errors.New("approver is required")
	ErrNotEditable       = errors.New("workbasket is not editable")
	ErrNotDiscardable    = errors.New("workbasket content has been submitted and cannot be discarded")
	ErrSeedAfterRevision = errors.New("revision transactions exist, seed partition would reorder history")
)

// ValidationError wraps err so it matches both ErrValidation and err.
func ValidationError(err error) error {
	return errors.Join(ErrValidation, err)
}

// OrderingError wraps err so it matches both ErrOrdering and err.
func OrderingError(err error) error {
	return errors.Join(ErrOrdering, err)
}
