package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewValidityValidation(t *testing.T) {
	start := day(2026, 1, 1)
	before := day(2025, 12, 31)
	if _, err := NewValidity(time.Time{}, nil); !errors.Is(err, ErrInvalidValidity) {
		t.Fatalf("expected ErrInvalidValidity for zero start, got %v", err)
	}
	_, err := NewValidity(start, &before)
	if !errors.Is(err, ErrInvalidValidity) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for end before start, got %v", err)
	}
	if _, err := NewValidity(start, &start); err != nil {
		t.Fatalf("NewValidity() single day error = %v", err)
	}
}

func TestValidityContainsAndOverlaps(t *testing.T) {
	end := day(2026, 3, 31)
	v, err := NewValidity(day(2026, 1, 1), &end)
	if err != nil {
		t.Fatalf("NewValidity() error = %v", err)
	}
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "before start", at: day(2025, 12, 31), want: false},
		{name: "start inclusive", at: day(2026, 1, 1), want: true},
		{name: "middle with clock time", at: time.Date(2026, 2, 1, 17, 30, 0, 0, time.UTC), want: true},
		{name: "end inclusive", at: day(2026, 3, 31), want: true},
		{name: "after end", at: day(2026, 4, 1), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Contains(tc.at); got != tc.want {
				t.Fatalf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}

	open, _ := NewValidity(day(2026, 3, 31), nil)
	if !v.Overlaps(open) || !open.Overlaps(v) {
		t.Fatal("expected periods sharing the end day to overlap")
	}
	later, _ := NewValidity(day(2026, 4, 1), nil)
	if v.Overlaps(later) {
		t.Fatal("expected adjacent periods not to overlap")
	}
	if !later.NotYetInEffect(day(2026, 2, 1)) {
		t.Fatal("expected later period to be not yet in effect")
	}
	if !v.NoLongerInEffect(day(2026, 5, 1)) {
		t.Fatal("expected closed period to be no longer in effect")
	}
	if open.NoLongerInEffect(day(2099, 1, 1)) {
		t.Fatal("open-ended period never ends")
	}
}

func TestParseValidity(t *testing.T) {
	v, err := ParseValidity("2026-01-01", "")
	if err != nil {
		t.Fatalf("ParseValidity() error = %v", err)
	}
	if v.End != nil || v.StartString() != "2026-01-01" {
		t.Fatalf("unexpected validity %#v", v)
	}
	if _, err := ParseValidity("01/01/2026", ""); !errors.Is(err, ErrInvalidValidity) {
		t.Fatalf("expected ErrInvalidValidity, got %v", err)
	}
}

func TestKindRegistry(t *testing.T) {
	spec, err := LookupKind(KindMeasure)
	if err != nil {
		t.Fatalf("LookupKind() error = %v", err)
	}
	if spec.RecordCode != "430" || spec.SubrecordCode != "00" {
		t.Fatalf("unexpected measure record code %s/%s", spec.RecordCode, spec.SubrecordCode)
	}
	if _, err := ParseKind("Quota_Order_Number"); err != nil {
		t.Fatalf("ParseKind() error = %v", err)
	}
	if _, err := ParseKind("widget"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}

	kinds := Kinds()
	for i := 1; i < len(kinds); i++ {
		if kinds[i-1].RecordSortKey() > kinds[i].RecordSortKey() {
			t.Fatalf("kinds not ordered by record code at %d: %s > %s", i, kinds[i-1].Kind, kinds[i].Kind)
		}
	}

	dependents := Dependents(KindQuotaOrderNumber)
	found := map[Kind]bool{}
	for _, d := range dependents {
		found[d.Kind] = true
	}
	if !found[KindMeasure] || !found[KindQuotaDefinition] {
		t.Fatalf("unexpected quota order number dependents %#v", found)
	}
}

func TestKindSpecDecodeAndKeys(t *testing.T) {
	spec, _ := LookupKind(KindFootnote)
	fields, err := spec.Decode(json.RawMessage(`{"footnote_type_id":" TN ","footnote_id":"001","description":"x"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	key, err := spec.IdentityKey(fields)
	if err != nil {
		t.Fatalf("IdentityKey() error = %v", err)
	}
	if key != "footnote_type_id=TN|footnote_id=001" {
		t.Fatalf("unexpected identity key %q", key)
	}
	lookup, err := spec.LookupKey(map[string]string{"footnote_type_id": "TN", "footnote_id": "001"})
	if err != nil || lookup != key {
		t.Fatalf("LookupKey() = %q, %v; want %q", lookup, err, key)
	}
	_, err = spec.LookupKey(map[string]string{"footnote_type_id": "TN"})
	if !errors.Is(err, ErrMissingIdentifyingValue) {
		t.Fatalf("expected ErrMissingIdentifyingValue, got %v", err)
	}

	if _, err := spec.Decode(json.RawMessage(`{"footnote_type_id":"TN","colour":"red"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for unknown field, got %v", err)
	}

	measure, _ := LookupKind(KindMeasure)
	mfields, err := measure.Decode(json.RawMessage(`{"sid":7,"measure_type_sid":"103","geographical_area_sid":1011,"generating_regulation_role":1,"generating_regulation_id":"R0000001"}`))
	if err != nil {
		t.Fatalf("Decode() measure error = %v", err)
	}
	refs := measure.ReferencesOf(mfields)
	got := map[Kind]string{}
	for _, ref := range refs {
		got[ref.Target] = ref.IdentityKey
	}
	if got[KindRegulation] != "role_type=1|regulation_id=R0000001" {
		t.Fatalf("unexpected regulation reference %q", got[KindRegulation])
	}
	if got[KindMeasureType] != "sid=103" || got[KindGeographicalArea] != "sid=1011" {
		t.Fatalf("unexpected references %#v", got)
	}
	if _, ok := got[KindQuotaOrderNumber]; ok {
		t.Fatal("absent optional reference must be skipped")
	}
}

func TestNewTrackedEntity(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	valid, _ := NewValidity(day(2026, 1, 1), nil)
	in := VersionInput{
		ID:             "v1",
		Kind:           KindGeographicalArea,
		VersionGroupID: "g1",
		TransactionID:  "t1",
		UpdateType:     UpdateCreate,
		Validity:       valid,
		Payload:        json.RawMessage(`{ "sid": 1011, "area_id": "1011", "area_code": 1 }`),
	}
	v, err := NewTrackedEntity(in, now)
	if err != nil {
		t.Fatalf("NewTrackedEntity() error = %v", err)
	}
	if v.IdentityKey != "sid=1011" || v.NaturalKey != "area_id=1011" {
		t.Fatalf("unexpected keys %q %q", v.IdentityKey, v.NaturalKey)
	}
	if string(v.Payload) != `{"sid":1011,"area_id":"1011","area_code":1}` {
		t.Fatalf("unexpected compacted payload %s", v.Payload)
	}

	missing := in
	missing.Payload = json.RawMessage(`{"area_id":"1011"}`)
	if _, err := NewTrackedEntity(missing, now); !errors.Is(err, ErrMissingIdentifyingValue) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing identifying value, got %v", err)
	}

	update := in
	update.UpdateType = UpdateUpdate
	if _, err := NewTrackedEntity(update, now); !errors.Is(err, ErrMissingPredecessor) || !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ErrMissingPredecessor, got %v", err)
	}

	create := in
	create.PredecessorID = "v0"
	if _, err := NewTrackedEntity(create, now); !errors.Is(err, ErrUnexpectedPredecessor) {
		t.Fatalf("expected ErrUnexpectedPredecessor, got %v", err)
	}

	badType := in
	badType.UpdateType = "PATCH"
	if _, err := NewTrackedEntity(badType, now); !errors.Is(err, ErrInvalidUpdateType) {
		t.Fatalf("expected ErrInvalidUpdateType, got %v", err)
	}
}

func TestUpdateTypeTaricCode(t *testing.T) {
	if UpdateUpdate.TaricCode() != 1 || UpdateDelete.TaricCode() != 2 || UpdateCreate.TaricCode() != 3 {
		t.Fatal("unexpected TARIC update type codes")
	}
}

func TestPartitionSchemes(t *testing.T) {
	cases := []struct {
		name   string
		scheme PartitionScheme
		status WorkbasketStatus
		state  PartitionState
		want   Partition
		err    error
	}{
		{name: "draft", scheme: SchemeSeedFirst, status: StatusEditing, want: PartitionDraft},
		{name: "errored is draft", scheme: SchemeSeedFirst, status: StatusErrored, want: PartitionDraft},
		{name: "archived", scheme: SchemeSeedFirst, status: StatusArchived, want: PartitionArchived},
		{name: "seed first empty", scheme: SchemeSeedFirst, status: StatusApproved, want: PartitionSeed},
		{name: "seed first later", scheme: SchemeSeedFirst, status: StatusApproved, state: PartitionState{OtherApproved: true}, want: PartitionRevision},
		{name: "seed only", scheme: SchemeSeedOnly, status: StatusApproved, state: PartitionState{OtherApproved: true}, want: PartitionSeed},
		{name: "seed only after revision", scheme: SchemeSeedOnly, status: StatusApproved, state: PartitionState{RevisionExists: true}, err: ErrSeedAfterRevision},
		{name: "revision only", scheme: SchemeRevisionOnly, status: StatusApproved, want: PartitionRevision},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.scheme.PartitionFor(tc.status, tc.state)
			if !errors.Is(err, tc.err) {
				t.Fatalf("PartitionFor() error = %v, want %v", err, tc.err)
			}
			if got != tc.want {
				t.Fatalf("PartitionFor() = %q, want %q", got, tc.want)
			}
		})
	}
	if _, err := ParsePartitionScheme("seed-everything"); !errors.Is(err, ErrInvalidScheme) {
		t.Fatalf("expected ErrInvalidScheme, got %v", err)
	}
	if s, err := ParsePartitionScheme(""); err != nil || s != SchemeSeedFirst {
		t.Fatalf("ParsePartitionScheme(\"\") = %q, %v", s, err)
	}
}

func TestTransactionResequence(t *testing.T) {
	now := time.Now()
	tx, err := NewTransaction("t1", "w1", 4, now)
	if err != nil {
		t.Fatalf("NewTransaction() error = %v", err)
	}
	if tx.Partition != PartitionDraft {
		t.Fatalf("unexpected partition %q", tx.Partition)
	}
	if err := tx.Resequence(4, now); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if err := tx.Resequence(9, now); err != nil {
		t.Fatalf("Resequence() error = %v", err)
	}
	if _, err := NewTransaction("t2", "w1", 0, now); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestParsePartition(t *testing.T) {
	for raw, want := range map[string]Partition{"seed": PartitionSeed, " REVISION ": PartitionRevision, "Draft": PartitionDraft, "archived": PartitionArchived} {
		got, err := ParsePartition(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePartition(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	for _, raw := range []string{"", "PUBLISHED"} {
		if _, err := ParsePartition(raw); !errors.Is(err, ErrInvalidPartition) {
			t.Fatalf("ParsePartition(%q) error = %v, want ErrInvalidPartition", raw, err)
		}
	}
}
