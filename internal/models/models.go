package models

import "time"

// MedicationRecord is the canonical structured record produced by the
// structuring stage and mutated only by the enrichment stages. Every field is
// optional except Name; enrichment fills empty fields and never overwrites a
// value that was read off the image.
type MedicationRecord struct {
	ProductCode        string `json:"product_code,omitempty"`
	LotNumber          string `json:"lot_number,omitempty"`
	ExpirationDate     string `json:"expiration_date,omitempty"`
	Name               string `json:"name"`
	CommonDenomination string `json:"common_denomination,omitempty"`
	Concentration      string `json:"concentration,omitempty"`
	Form               string `json:"form,omitempty"`
	FormSimple         string `json:"form_simple,omitempty"`
	BrandName          string `json:"brand_name,omitempty"`
	Country            string `json:"country,omitempty"`
	Presentation       string `json:"presentation,omitempty"`
	Fractions          string `json:"fractions,omitempty"`
	ProductType        string `json:"product_type,omitempty"`
	Quantity           string `json:"quantity,omitempty"`
	Price              string `json:"price,omitempty"`

	// Degraded-output fallback: when the model reply fails schema validation
	// the record still returns, carrying the raw text and the failure reason.
	RawText          string `json:"raw_text,omitempty"`
	StructuringError string `json:"structuring_error,omitempty"`
}

// RegistryEntry mirrors one row of the authoritative product registry.
// Read-only from the pipeline's perspective.
type RegistryEntry struct {
	ID                 int64  `json:"id"`
	GtinCode           string `json:"gtin_code"`
	GtinCodeType       string `json:"gtin_code_type,omitempty"`
	PharmacyType       string `json:"pharmacy_type,omitempty"`
	ProductType        string `json:"product_type,omitempty"`
	Name               string `json:"name"`
	CommonDenomination string `json:"common_denomination,omitempty"`
	Concentration      string `json:"concentration,omitempty"`
	Form               string `json:"form,omitempty"`
	FormSimple         string `json:"form_simple,omitempty"`
	BrandName          string `json:"brand_name,omitempty"`
	Country            string `json:"country,omitempty"`
	Presentation       string `json:"presentation,omitempty"`
	CodeRsList         string `json:"code_rs_list,omitempty"`
	Fractions          *int   `json:"fractions,omitempty"`
	State              string `json:"state,omitempty"`
}

// SemanticCandidate is a registry entry ranked by vector similarity.
// Transient: produced by a search, reported to the caller, never persisted.
type SemanticCandidate struct {
	Entry        RegistryEntry `json:"entry"`
	Score        float64       `json:"score"`
	VectorizedAt time.Time     `json:"vectorized_at,omitempty"`
}

// ExtractedText is one image's OCR output. Err carries the per-image failure
// so a bad image never takes the rest of the batch down with it.
type ExtractedText struct {
	ImageName string `json:"image_name"`
	Provider  string `json:"provider"`
	Text      string `json:"text,omitempty"`
	Err       string `json:"error,omitempty"`
}

// IndexStats summarizes the vector index.
type IndexStats struct {
	Count  int    `json:"count"`
	Status string `json:"status"`
}
