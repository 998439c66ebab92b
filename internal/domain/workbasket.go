package domain

import (
	"slices"
	"strings"
	"time"
)

// WorkbasketStatus represents the workflow state of a workbasket.
type WorkbasketStatus string

// StatusEditing and related constants define the workflow states.
const (
	StatusEditing   WorkbasketStatus = "EDITING"
	StatusProposed  WorkbasketStatus = "PROPOSED"
	StatusApproved  WorkbasketStatus = "APPROVED"
	StatusSent      WorkbasketStatus = "SENT"
	StatusPublished WorkbasketStatus = "PUBLISHED"
	StatusErrored   WorkbasketStatus = "ERRORED"
	StatusArchived  WorkbasketStatus = "ARCHIVED"
)

var validStatuses = []WorkbasketStatus{
	StatusEditing,
	StatusProposed,
	StatusApproved,
	StatusSent,
	StatusPublished,
	StatusErrored,
	StatusArchived,
}

// ApprovedStatuses lists the statuses whose transactions are visible to approved queries.
func ApprovedStatuses() []WorkbasketStatus {
	return []WorkbasketStatus{StatusApproved, StatusSent, StatusPublished}
}

// ParseWorkbasketStatus parses a status name case-insensitively.
func ParseWorkbasketStatus(raw string) (WorkbasketStatus, error) {
	status := WorkbasketStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !slices.Contains(validStatuses, status) {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// IsApproved reports whether the status is APPROVED or later in the happy path.
func (s WorkbasketStatus) IsApproved() bool {
	return slices.Contains(ApprovedStatuses(), s)
}

// Workbasket represents a unit of proposed change moving through approval.
type Workbasket struct {
	ID            string
	Title         string
	Reason        string
	Author        string
	Approver      string
	Status        WorkbasketStatus
	FailureReason string
	EnvelopeID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SubmittedAt   *time.Time
}

// NewWorkbasket constructs an EDITING workbasket.
func NewWorkbasket(id, title, reason, author string, now time.Time) (Workbasket, error) {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	if id == "" {
		return Workbasket{}, ErrInvalidID
	}
	if title == "" {
		return Workbasket{}, ErrInvalidTitle
	}
	return Workbasket{
		ID:        id,
		Title:     title,
		Reason:    strings.TrimSpace(reason),
		Author:    strings.TrimSpace(author),
		Status:    StatusEditing,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// IsApproved reports whether the workbasket's transactions are approved-visible.
func (w Workbasket) IsApproved() bool {
	return w.Status.IsApproved() && w.Approver != ""
}

// IsEditable reports whether new transactions may be added.
func (w Workbasket) IsEditable() bool {
	return w.Status == StatusEditing
}

// IsQueryAnchor reports whether a transaction of this workbasket may anchor a query.
func (w Workbasket) IsQueryAnchor() bool {
	return w.Status == StatusEditing || w.IsApproved()
}

// Submit moves an EDITING workbasket to PROPOSED.
func (w *Workbasket) Submit(now time.Time) error {
	if err := w.transition(StatusProposed, now); err != nil {
		return err
	}
	if w.SubmittedAt == nil {
		ts := now.UTC()
		w.SubmittedAt = &ts
	}
	return nil
}

// Withdraw returns a PROPOSED workbasket to EDITING.
func (w *Workbasket) Withdraw(now time.Time) error {
	if w.Status != StatusProposed {
		return ErrInvalidTransition
	}
	return w.transition(StatusEditing, now)
}

// Approve records the approver and moves a PROPOSED workbasket to APPROVED.
func (w *Workbasket) Approve(approver string, now time.Time) error {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return ErrApproverRequired
	}
	if err := w.transition(StatusApproved, now); err != nil {
		return err
	}
	w.Approver = approver
	return nil
}

// MarkSent records the downstream envelope and moves an APPROVED workbasket to SENT.
func (w *Workbasket) MarkSent(envelopeID string, now time.Time) error {
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return ErrInvalidID
	}
	if err := w.transition(StatusSent, now); err != nil {
		return err
	}
	w.EnvelopeID = envelopeID
	return nil
}

// Publish moves a SENT workbasket to PUBLISHED.
func (w *Workbasket) Publish(now time.Time) error {
	return w.transition(StatusPublished, now)
}

// MarkErrored moves a workbasket to ERRORED and retains the reason.
func (w *Workbasket) MarkErrored(reason string, now time.Time) error {
	if err := w.transition(StatusErrored, now); err != nil {
		return err
	}
	w.FailureReason = strings.TrimSpace(reason)
	return nil
}

// Restore returns an ERRORED workbasket to EDITING and clears approval state.
func (w *Workbasket) Restore(now time.Time) error {
	if w.Status != StatusErrored {
		return ErrInvalidTransition
	}
	if err := w.transition(StatusEditing, now); err != nil {
		return err
	}
	w.Approver = ""
	w.EnvelopeID = ""
	w.FailureReason = ""
	return nil
}

// Archive shelves an EDITING workbasket.
func (w *Workbasket) Archive(now time.Time) error {
	return w.transition(StatusArchived, now)
}

// Unarchive returns an ARCHIVED workbasket to EDITING.
func (w *Workbasket) Unarchive(now time.Time) error {
	if w.Status != StatusArchived {
		return ErrInvalidTransition
	}
	return w.transition(StatusEditing, now)
}

// CheckDiscard reports whether the workbasket and its content may be physically removed.
func (w Workbasket) CheckDiscard() error {
	if w.Status != StatusEditing && w.Status != StatusArchived {
		return ErrInvalidTransition
	}
	if w.SubmittedAt != nil {
		return ErrNotDiscardable
	}
	return nil
}

func (w *Workbasket) transition(to WorkbasketStatus, now time.Time) error {
	if !CanTransition(w.Status, to) {
		return ErrInvalidTransition
	}
	w.Status = to
	w.UpdatedAt = now.UTC()
	return nil
}
