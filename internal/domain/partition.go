package domain

import "strings"

// PartitionScheme maps workbasket statuses to transaction partitions.
type PartitionScheme string

// SchemeSeedFirst and related constants define the supported schemes.
const (
	// SchemeSeedFirst labels the first approved workbasket SEED and every later one REVISION.
	SchemeSeedFirst PartitionScheme = "SEED_FIRST"
	// SchemeSeedOnly labels approved workbaskets SEED until a REVISION exists.
	SchemeSeedOnly PartitionScheme = "SEED_ONLY"
	// SchemeRevisionOnly labels every approved workbasket REVISION.
	SchemeRevisionOnly PartitionScheme = "REVISION_ONLY"
)

// ParsePartitionScheme parses a scheme name; empty input selects SEED_FIRST.
func ParsePartitionScheme(raw string) (PartitionScheme, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	switch PartitionScheme(raw) {
	case "":
		return SchemeSeedFirst, nil
	case SchemeSeedFirst, SchemeSeedOnly, SchemeRevisionOnly:
		return PartitionScheme(raw), nil
	default:
		return "", ErrInvalidScheme
	}
}

// PartitionState summarizes the existing history a scheme needs to choose a partition.
type PartitionState struct {
	// OtherApproved is true when another workbasket is already approved.
	OtherApproved bool
	// RevisionExists is true when any REVISION transaction exists.
	RevisionExists bool
}

// PartitionFor returns the partition for transactions of a workbasket in the given status.
func (s PartitionScheme) PartitionFor(status WorkbasketStatus, state PartitionState) (Partition, error) {
	switch {
	case status == StatusArchived:
		return PartitionArchived, nil
	case !status.IsApproved():
		return PartitionDraft, nil
	}
	switch s {
	case SchemeSeedFirst, "":
		if state.OtherApproved {
			return PartitionRevision, nil
		}
		return PartitionSeed, nil
	case SchemeSeedOnly:
		if state.RevisionExists {
			return "", ErrSeedAfterRevision
		}
		return PartitionSeed, nil
	case SchemeRevisionOnly:
		return PartitionRevision, nil
	default:
		return "", ErrInvalidScheme
	}
}
