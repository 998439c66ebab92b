package domain

import "slices"

// workflowTransitions lists the allowed successor states of each status.
var workflowTransitions = map[WorkbasketStatus][]WorkbasketStatus{
	StatusEditing:   {StatusProposed, StatusArchived},
	StatusProposed:  {StatusEditing, StatusApproved, StatusErrored},
	StatusApproved:  {StatusSent, StatusErrored},
	StatusSent:      {StatusPublished, StatusErrored},
	StatusPublished: nil,
	StatusErrored:   {StatusEditing},
	StatusArchived:  {StatusEditing},
}

// CanTransition reports whether the workflow allows moving from one status to another.
func CanTransition(from, to WorkbasketStatus) bool {
	return slices.Contains(workflowTransitions[from], to)
}

// NextStatuses returns the statuses reachable from the given status in one step.
func NextStatuses(from WorkbasketStatus) []WorkbasketStatus {
	return slices.Clone(workflowTransitions[from])
}
