package domain

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// UpdateType records how a version changes its entity.
type UpdateType string

// UpdateCreate and related constants define the update types.
const (
	UpdateCreate UpdateType = "CREATE"
	UpdateUpdate UpdateType = "UPDATE"
	UpdateDelete UpdateType = "DELETE"
)

// ParseUpdateType parses an update type name case-insensitively.
func ParseUpdateType(raw string) (UpdateType, error) {
	u := UpdateType(strings.ToUpper(strings.TrimSpace(raw)))
	switch u {
	case UpdateCreate, UpdateUpdate, UpdateDelete:
		return u, nil
	default:
		return "", ErrInvalidUpdateType
	}
}

// TaricCode returns the TARIC3 update type code.
func (u UpdateType) TaricCode() int {
	switch u {
	case UpdateUpdate:
		return 1
	case UpdateDelete:
		return 2
	default:
		return 3
	}
}

// VersionGroup ties together every version of one logical entity.
type VersionGroup struct {
	ID          string
	Kind        Kind
	IdentityKey string
	// CurrentVersionID caches the latest approved version, or "" before any approval.
	CurrentVersionID string
	CreatedAt        time.Time
}

// NewVersionGroup constructs a group with no approved version.
func NewVersionGroup(id string, kind Kind, identityKey string, now time.Time) (VersionGroup, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return VersionGroup{}, ErrInvalidID
	}
	if _, err := LookupKind(kind); err != nil {
		return VersionGroup{}, err
	}
	if strings.TrimSpace(identityKey) == "" {
		return VersionGroup{}, ValidationError(ErrMissingIdentifyingValue)
	}
	return VersionGroup{
		ID:          id,
		Kind:        kind,
		IdentityKey: identityKey,
		CreatedAt:   now.UTC(),
	}, nil
}

// TrackedEntity is one immutable version of a tracked entity.
type TrackedEntity struct {
	ID             string
	Kind           Kind
	VersionGroupID string
	TransactionID  string
	PredecessorID  string
	UpdateType     UpdateType
	Validity       Validity
	IdentityKey    string
	NaturalKey     string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// VersionInput holds input values for constructing a version.
type VersionInput struct {
	ID             string
	Kind           Kind
	VersionGroupID string
	TransactionID  string
	PredecessorID  string
	UpdateType     UpdateType
	Validity       Validity
	Payload        json.RawMessage
}

// NewTrackedEntity validates input and constructs a version.
func NewTrackedEntity(in VersionInput, now time.Time) (TrackedEntity, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.VersionGroupID = strings.TrimSpace(in.VersionGroupID)
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	in.PredecessorID = strings.TrimSpace(in.PredecessorID)
	if in.ID == "" || in.VersionGroupID == "" || in.TransactionID == "" {
		return TrackedEntity{}, ErrInvalidID
	}
	spec, err := LookupKind(in.Kind)
	if err != nil {
		return TrackedEntity{}, err
	}
	if _, err := ParseUpdateType(string(in.UpdateType)); err != nil {
		return TrackedEntity{}, err
	}
	fields, err := spec.Decode(in.Payload)
	if err != nil {
		return TrackedEntity{}, err
	}
	identity, err := spec.IdentityKey(fields)
	if err != nil {
		return TrackedEntity{}, err
	}
	validity, err := NewValidity(in.Validity.Start, in.Validity.End)
	if err != nil {
		return TrackedEntity{}, err
	}
	switch {
	case in.UpdateType == UpdateCreate && in.PredecessorID != "":
		return TrackedEntity{}, OrderingError(ErrUnexpectedPredecessor)
	case in.UpdateType != UpdateCreate && in.PredecessorID == "":
		return TrackedEntity{}, OrderingError(ErrMissingPredecessor)
	}

	return TrackedEntity{
		ID:             in.ID,
		Kind:           in.Kind,
		VersionGroupID: in.VersionGroupID,
		TransactionID:  in.TransactionID,
		PredecessorID:  in.PredecessorID,
		UpdateType:     in.UpdateType,
		Validity:       validity,
		IdentityKey:    identity,
		NaturalKey:     spec.NaturalKeyOf(fields),
		Payload:        compactPayload(in.Payload),
		CreatedAt:      now.UTC(),
	}, nil
}

// IsDelete reports whether the version is a terminal DELETE.
func (e TrackedEntity) IsDelete() bool {
	return e.UpdateType == UpdateDelete
}

// Fields decodes the version's payload into canonical field values.
func (e TrackedEntity) Fields() (Fields, error) {
	spec, err := LookupKind(e.Kind)
	if err != nil {
		return nil, err
	}
	return spec.Decode(e.Payload)
}

func compactPayload(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return slices.Clone(raw)
	}
	return json.RawMessage(buf.Bytes())
}
