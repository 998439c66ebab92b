package sqlstore

import (
	"errors"
	"testing"

	"github.com/uktrade/tamato/internal/domain"
)

func TestDialectRebind(t *testing.T) {
	query := `SELECT id FROM versions WHERE kind IN (?, ?) AND identity_key = ?`
	if got := (Dialect{}).Rebind(query); got != query {
		t.Fatalf("Rebind() = %q, want unchanged", got)
	}
	want := `SELECT id FROM versions WHERE kind IN ($1, $2) AND identity_key = $3`
	if got := (Dialect{Numbered: true}).Rebind(query); got != want {
		t.Fatalf("Rebind() = %q, want %q", got, want)
	}
}

func TestTranslateUniqueViolation(t *testing.T) {
	violation := func(constraint string) func(error) (string, bool) {
		return func(error) (string, bool) { return constraint, true }
	}
	cases := []struct {
		constraint string
		want       error
	}{
		{constraint: "UNIQUE constraint failed: transactions.tx_order", want: domain.ErrDuplicateOrder},
		{constraint: "versions_group_tx_key", want: domain.ErrGroupTwiceInTransaction},
		{constraint: "UNIQUE constraint failed: versions.version_group_id, versions.transaction_id", want: domain.ErrGroupTwiceInTransaction},
	}
	for _, tc := range cases {
		q := &queries{d: Dialect{UniqueViolation: violation(tc.constraint)}}
		if err := q.translate(errors.New("driver error")); !errors.Is(err, tc.want) {
			t.Fatalf("translate(%q) = %v, want %v", tc.constraint, err, tc.want)
		}
	}

	raw := errors.New("other")
	q := &queries{d: Dialect{UniqueViolation: violation("workbaskets_pkey")}}
	if err := q.translate(raw); !errors.Is(err, raw) {
		t.Fatalf("translate() = %v, want passthrough", err)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?, ?, ?" {
		t.Fatalf("placeholders(3) = %q", got)
	}
}
