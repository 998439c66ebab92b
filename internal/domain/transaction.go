package domain

import (
	"slices"
	"strings"
	"time"
)

// Partition classifies a transaction for export and audit.
type Partition string

// PartitionSeed and related constants define transaction partitions.
const (
	PartitionSeed     Partition = "SEED"
	PartitionRevision Partition = "REVISION"
	PartitionDraft    Partition = "DRAFT"
	PartitionArchived Partition = "ARCHIVED"
)

var validPartitions = []Partition{PartitionSeed, PartitionRevision, PartitionDraft, PartitionArchived}

// ParsePartition parses a partition name case-insensitively.
func ParsePartition(raw string) (Partition, error) {
	p := Partition(strings.ToUpper(strings.TrimSpace(raw)))
	if !slices.Contains(validPartitions, p) {
		return "", ErrInvalidPartition
	}
	return p, nil
}

// Transaction is an ordered atomic unit of change owned by one workbasket.
type Transaction struct {
	ID           string
	WorkbasketID string
	Order        int64
	Partition    Partition
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewTransaction constructs a DRAFT transaction at the given global order.
func NewTransaction(id, workbasketID string, order int64, now time.Time) (Transaction, error) {
	id = strings.TrimSpace(id)
	workbasketID = strings.TrimSpace(workbasketID)
	if id == "" || workbasketID == "" {
		return Transaction{}, ErrInvalidID
	}
	if order <= 0 {
		return Transaction{}, ErrInvalidOrder
	}
	return Transaction{
		ID:           id,
		WorkbasketID: workbasketID,
		Order:        order,
		Partition:    PartitionDraft,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// Precedes reports whether t is ordered strictly before other.
func (t Transaction) Precedes(other Transaction) bool {
	return t.Order < other.Order
}

// Resequence moves the transaction to a later order.
func (t *Transaction) Resequence(order int64, now time.Time) error {
	if order <= t.Order {
		return ErrInvalidOrder
	}
	t.Order = order
	t.UpdatedAt = now.UTC()
	return nil
}

// SetPartition relabels the transaction.
func (t *Transaction) SetPartition(p Partition, now time.Time) error {
	if !slices.Contains(validPartitions, p) {
		return ErrInvalidPartition
	}
	t.Partition = p
	t.UpdatedAt = now.UTC()
	return nil
}

// SortTransactions orders transactions by ascending order.
func SortTransactions(txs []Transaction) {
	slices.SortFunc(txs, func(a, b Transaction) int {
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		default:
			return 0
		}
	})
}
