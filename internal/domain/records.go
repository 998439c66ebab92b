package domain

// The record types below are the entity-specific payloads of each tracked kind.
// Validity, update type and version links live on TrackedEntity.

// FootnoteType represents footnote type data used by this package.
type FootnoteType struct {
	FootnoteTypeID  string `json:"footnote_type_id"`
	ApplicationCode int    `json:"application_code,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Footnote represents footnote data used by this package.
type Footnote struct {
	FootnoteTypeID string `json:"footnote_type_id"`
	FootnoteID     string `json:"footnote_id"`
	Description    string `json:"description,omitempty"`
}

// CertificateType represents certificate type data used by this package.
type CertificateType struct {
	SID         string `json:"sid"`
	Description string `json:"description,omitempty"`
}

// Certificate represents certificate data used by this package.
type Certificate struct {
	CertificateTypeSID string `json:"certificate_type_sid"`
	SID                string `json:"sid"`
	Description        string `json:"description,omitempty"`
}

// AdditionalCodeType represents additional code type data used by this package.
type AdditionalCodeType struct {
	SID             string `json:"sid"`
	ApplicationCode int    `json:"application_code,omitempty"`
	Description     string `json:"description,omitempty"`
}

// AdditionalCode represents additional code data used by this package.
type AdditionalCode struct {
	SID         int    `json:"sid"`
	TypeSID     string `json:"type_sid"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// RegulationGroup represents regulation group data used by this package.
type RegulationGroup struct {
	GroupID     string `json:"group_id"`
	Description string `json:"description,omitempty"`
}

// Regulation represents base regulation data used by this package.
type Regulation struct {
	RoleType          int    `json:"role_type"`
	RegulationID      string `json:"regulation_id"`
	RegulationGroupID string `json:"regulation_group_id,omitempty"`
	InformationText   string `json:"information_text,omitempty"`
	PublishedAt       string `json:"published_at,omitempty"`
	Approved          bool   `json:"approved,omitempty"`
}

// GeographicalArea represents geographical area data used by this package.
type GeographicalArea struct {
	SID         int    `json:"sid"`
	AreaID      string `json:"area_id"`
	AreaCode    int    `json:"area_code"`
	Description string `json:"description,omitempty"`
}

// GoodsNomenclature represents commodity code data used by this package.
type GoodsNomenclature struct {
	SID         int    `json:"sid"`
	ItemID      string `json:"item_id"`
	Suffix      string `json:"suffix"`
	Statistical bool   `json:"statistical,omitempty"`
	Description string `json:"description,omitempty"`
}

// MeasureType represents measure type data used by this package.
type MeasureType struct {
	SID               string `json:"sid"`
	TradeMovementCode int    `json:"trade_movement_code,omitempty"`
	Description       string `json:"description,omitempty"`
}

// Measure represents measure data used by this package.
type Measure struct {
	SID                      int    `json:"sid"`
	MeasureTypeSID           string `json:"measure_type_sid"`
	GeographicalAreaSID      int    `json:"geographical_area_sid"`
	GoodsNomenclatureSID     int    `json:"goods_nomenclature_sid,omitempty"`
	AdditionalCodeSID        int    `json:"additional_code_sid,omitempty"`
	OrderNumberSID           int    `json:"order_number_sid,omitempty"`
	GeneratingRegulationRole int    `json:"generating_regulation_role,omitempty"`
	GeneratingRegulationID   string `json:"generating_regulation_id,omitempty"`
	DutySentence             string `json:"duty_sentence,omitempty"`
}

// QuotaOrderNumber represents quota order number data used by this package.
type QuotaOrderNumber struct {
	SID         int    `json:"sid"`
	OrderNumber string `json:"order_number"`
	Mechanism   int    `json:"mechanism,omitempty"`
	Category    int    `json:"category,omitempty"`
}

// QuotaDefinition represents quota definition data used by this package.
type QuotaDefinition struct {
	SID                 int    `json:"sid"`
	OrderNumberSID      int    `json:"order_number_sid"`
	Volume              string `json:"volume,omitempty"`
	InitialVolume       string `json:"initial_volume,omitempty"`
	MeasurementUnitCode string `json:"measurement_unit_code,omitempty"`
}
