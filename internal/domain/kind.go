package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies one tracked entity variant in the static kind registry.
type Kind string

// KindFootnoteType and related constants name the registered tracked kinds.
const (
	KindFootnoteType       Kind = "footnote_type"
	KindFootnote           Kind = "footnote"
	KindCertificateType    Kind = "certificate_type"
	KindCertificate        Kind = "certificate"
	KindAdditionalCodeType Kind = "additional_code_type"
	KindAdditionalCode     Kind = "additional_code"
	KindRegulationGroup    Kind = "regulation_group"
	KindRegulation         Kind = "regulation"
	KindGeographicalArea   Kind = "geographical_area"
	KindGoodsNomenclature  Kind = "goods_nomenclature"
	KindMeasureType        Kind = "measure_type"
	KindMeasure            Kind = "measure"
	KindQuotaOrderNumber   Kind = "quota_order_number"
	KindQuotaDefinition    Kind = "quota_definition"
)

// Reference declares that a kind points at another kind's identity.
// Fields[i] holds the value of Target's i-th identifying field.
type Reference struct {
	Target Kind
	Fields []string
}

// KindSpec describes one registered kind.
type KindSpec struct {
	Kind          Kind
	RecordCode    string
	SubrecordCode string
	Description   string
	// Identifying fields select the version group a lookup resolves to.
	Identifying []string
	// NaturalKey fields may not carry overlapping validity across groups.
	NaturalKey []string
	References []Reference
	newRecord  func() any
}

// Fields holds canonical string values of a payload's top-level fields.
type Fields map[string]string

// kindRegistry is built once from the static table below.
var kindRegistry = newKindRegistry([]KindSpec{
	{
		Kind: KindFootnoteType, RecordCode: "100", SubrecordCode: "00", Description: "Footnote type",
		Identifying: []string{"footnote_type_id"},
		newRecord:   func() any { return &FootnoteType{} },
	},
	{
		Kind: KindCertificateType, RecordCode: "110", SubrecordCode: "00", Description: "Certificate type",
		Identifying: []string{"sid"},
		newRecord:   func() any { return &CertificateType{} },
	},
	{
		Kind: KindAdditionalCodeType, RecordCode: "120", SubrecordCode: "00", Description: "Additional code type",
		Identifying: []string{"sid"},
		newRecord:   func() any { return &AdditionalCodeType{} },
	},
	{
		Kind: KindRegulationGroup, RecordCode: "150", SubrecordCode: "00", Description: "Regulation group",
		Identifying: []string{"group_id"},
		newRecord:   func() any { return &RegulationGroup{} },
	},
	{
		Kind: KindFootnote, RecordCode: "200", SubrecordCode: "00", Description: "Footnote",
		Identifying: []string{"footnote_type_id", "footnote_id"},
		References:  []Reference{{Target: KindFootnoteType, Fields: []string{"footnote_type_id"}}},
		newRecord:   func() any { return &Footnote{} },
	},
	{
		Kind: KindCertificate, RecordCode: "205", SubrecordCode: "00", Description: "Certificate",
		Identifying: []string{"certificate_type_sid", "sid"},
		References:  []Reference{{Target: KindCertificateType, Fields: []string{"certificate_type_sid"}}},
		newRecord:   func() any { return &Certificate{} },
	},
	{
		Kind: KindMeasureType, RecordCode: "235", SubrecordCode: "00", Description: "Measure type",
		Identifying: []string{"sid"},
		newRecord:   func() any { return &MeasureType{} },
	},
	{
		Kind: KindAdditionalCode, RecordCode: "245", SubrecordCode: "00", Description: "Additional code",
		Identifying: []string{"sid"},
		NaturalKey:  []string{"type_sid", "code"},
		References:  []Reference{{Target: KindAdditionalCodeType, Fields: []string{"type_sid"}}},
		newRecord:   func() any { return &AdditionalCode{} },
	},
	{
		Kind: KindGeographicalArea, RecordCode: "250", SubrecordCode: "00", Description: "Geographical area",
		Identifying: []string{"sid"},
		NaturalKey:  []string{"area_id"},
		newRecord:   func() any { return &GeographicalArea{} },
	},
	{
		Kind: KindRegulation, RecordCode: "285", SubrecordCode: "00", Description: "Base regulation",
		Identifying: []string{"role_type", "regulation_id"},
		References:  []Reference{{Target: KindRegulationGroup, Fields: []string{"regulation_group_id"}}},
		newRecord:   func() any { return &Regulation{} },
	},
	{
		Kind: KindQuotaOrderNumber, RecordCode: "360", SubrecordCode: "00", Description: "Quota order number",
		Identifying: []string{"sid"},
		NaturalKey:  []string{"order_number"},
		newRecord:   func() any { return &QuotaOrderNumber{} },
	},
	{
		Kind: KindQuotaDefinition, RecordCode: "370", SubrecordCode: "00", Description: "Quota definition",
		Identifying: []string{"sid"},
		References:  []Reference{{Target: KindQuotaOrderNumber, Fields: []string{"order_number_sid"}}},
		newRecord:   func() any { return &QuotaDefinition{} },
	},
	{
		Kind: KindGoodsNomenclature, RecordCode: "400", SubrecordCode: "00", Description: "Goods nomenclature",
		Identifying: []string{"sid"},
		NaturalKey:  []string{"item_id", "suffix"},
		newRecord:   func() any { return &GoodsNomenclature{} },
	},
	{
		Kind: KindMeasure, RecordCode: "430", SubrecordCode: "00", Description: "Measure",
		Identifying: []string{"sid"},
		References: []Reference{
			{Target: KindMeasureType, Fields: []string{"measure_type_sid"}},
			{Target: KindGeographicalArea, Fields: []string{"geographical_area_sid"}},
			{Target: KindGoodsNomenclature, Fields: []string{"goods_nomenclature_sid"}},
			{Target: KindAdditionalCode, Fields: []string{"additional_code_sid"}},
			{Target: KindQuotaOrderNumber, Fields: []string{"order_number_sid"}},
			{Target: KindRegulation, Fields: []string{"generating_regulation_role", "generating_regulation_id"}},
		},
		newRecord: func() any { return &Measure{} },
	},
})

// registry indexes kind specs by kind.
type registry struct {
	byKind  map[Kind]KindSpec
	ordered []KindSpec
}

func newKindRegistry(specs []KindSpec) registry {
	r := registry{byKind: make(map[Kind]KindSpec, len(specs))}
	for _, spec := range specs {
		if _, dup := r.byKind[spec.Kind]; dup {
			panic(fmt.Sprintf("duplicate tracked kind %q", spec.Kind))
		}
		r.byKind[spec.Kind] = spec
		r.ordered = append(r.ordered, spec)
	}
	slices.SortFunc(r.ordered, func(a, b KindSpec) int {
		return strings.Compare(a.RecordSortKey(), b.RecordSortKey())
	})
	return r
}

// LookupKind returns the registered definition for a kind.
func LookupKind(kind Kind) (KindSpec, error) {
	spec, ok := kindRegistry.byKind[kind]
	if !ok {
		return KindSpec{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return spec, nil
}

// ParseKind parses a kind name.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, err := LookupKind(kind); err != nil {
		return "", err
	}
	return kind, nil
}

// Kinds returns every registered kind ordered by record code.
func Kinds() []KindSpec {
	return slices.Clone(kindRegistry.ordered)
}

// Dependents returns the specs that declare a reference to kind.
func Dependents(kind Kind) []KindSpec {
	out := make([]KindSpec, 0)
	for _, spec := range kindRegistry.ordered {
		for _, ref := range spec.References {
			if ref.Target == kind {
				out = append(out, spec)
				break
			}
		}
	}
	return out
}

// RecordSortKey orders kinds the way TARIC envelopes list records.
func (s KindSpec) RecordSortKey() string {
	return s.RecordCode + s.SubrecordCode
}

// Decode validates a payload against the kind's record type and returns its canonical fields.
func (s KindSpec) Decode(raw json.RawMessage) (Fields, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s.newRecord()); err != nil {
		return nil, ValidationError(fmt.Errorf("%w: %s: %v", ErrInvalidPayload, s.Kind, err))
	}

	generic := map[string]any{}
	dec = json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, ValidationError(fmt.Errorf("%w: %s: %v", ErrInvalidPayload, s.Kind, err))
	}
	fields := make(Fields, len(generic))
	for name, value := range generic {
		if text := canonicalValue(value); text != "" {
			fields[name] = text
		}
	}
	return fields, nil
}

// IdentityKey builds the canonical identity key from the kind's identifying fields.
func (s KindSpec) IdentityKey(fields Fields) (string, error) {
	return buildKey(s.Identifying, s.Identifying, fields)
}

// NaturalKeyOf returns the natural key, or "" when the kind has none or a value is absent.
func (s KindSpec) NaturalKeyOf(fields Fields) string {
	if len(s.NaturalKey) == 0 {
		return ""
	}
	key, err := buildKey(s.NaturalKey, s.NaturalKey, fields)
	if err != nil {
		return ""
	}
	return key
}

// LookupKey builds an identity key from caller-supplied identifying values.
func (s KindSpec) LookupKey(values map[string]string) (string, error) {
	fields := make(Fields, len(values))
	for name, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			fields[strings.TrimSpace(name)] = value
		}
	}
	return s.IdentityKey(fields)
}

// ResolvedReference is a reference whose target identity key has been computed.
type ResolvedReference struct {
	Target      Kind
	IdentityKey string
}

// ReferencesOf resolves the references present in fields; absent optional references are skipped.
func (s KindSpec) ReferencesOf(fields Fields) []ResolvedReference {
	out := make([]ResolvedReference, 0, len(s.References))
	for _, ref := range s.References {
		target, err := LookupKind(ref.Target)
		if err != nil {
			continue
		}
		key, err := buildKey(target.Identifying, ref.Fields, fields)
		if err != nil {
			continue
		}
		out = append(out, ResolvedReference{Target: ref.Target, IdentityKey: key})
	}
	return out
}

// buildKey renders names[i]=fields[sources[i]] joined with "|".
func buildKey(names, sources []string, fields Fields) (string, error) {
	parts := make([]string, 0, len(names))
	for i, name := range names {
		value := fields[sources[i]]
		if value == "" {
			return "", ValidationError(fmt.Errorf("%w: %s", ErrMissingIdentifyingValue, sources[i]))
		}
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, "|"), nil
}

func canonicalValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
