package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"medscan/internal/models"
	"medscan/internal/providers"
	"medscan/internal/util"
)

// Structurer turns joined OCR transcriptions into a MedicationRecord via a
// schema-constrained LLM call. Validation failures do not fail the pipeline:
// the record comes back degraded, carrying the raw text and the reason.
type Structurer struct {
	llm providers.LLMProvider
}

func NewStructurer(llm providers.LLMProvider) *Structurer {
	return &Structurer{llm: llm}
}

func (s *Structurer) Structure(ctx context.Context, texts []string) (models.MedicationRecord, providers.ProviderInfo, error) {
	input := buildInput(texts)
	if input == "" {
		return models.MedicationRecord{}, providers.ProviderInfo{}, util.ErrNoInputData
	}
	resp, info, err := s.llm.Generate(ctx, providers.GenerateRequest{
		Prompt:   extractionPrompt,
		Context:  []string{input},
		JSONOnly: true,
	})
	if err != nil {
		return models.MedicationRecord{}, info, fmt.Errorf("structuring generate: %w", err)
	}
	rec, err := ParseRecord(resp.Text)
	if err != nil {
		// Degraded output: keep what OCR gave us so the caller can still
		// inspect and retry later.
		return models.MedicationRecord{
			RawText:          input,
			StructuringError: err.Error(),
		}, info, nil
	}
	return rec, info, nil
}

// ParseRecord validates and decodes one model reply into a MedicationRecord.
func ParseRecord(raw string) (models.MedicationRecord, error) {
	cleaned := StripCodeFence(raw)
	if err := validateAgainstSchema(recordSchema, []byte(cleaned)); err != nil {
		return models.MedicationRecord{}, fmt.Errorf("%w: %v", util.ErrStructuringFailed, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return models.MedicationRecord{}, fmt.Errorf("%w: %v", util.ErrStructuringFailed, err)
	}
	rec := models.MedicationRecord{
		ProductCode:        asString(fields["product_code"]),
		LotNumber:          asString(fields["lot_number"]),
		ExpirationDate:     asString(fields["expiration_date"]),
		Name:               asString(fields["name"]),
		CommonDenomination: asString(fields["common_denomination"]),
		Concentration:      asString(fields["concentration"]),
		Form:               asString(fields["form"]),
		FormSimple:         asString(fields["form_simple"]),
		BrandName:          asString(fields["brand_name"]),
		Country:            asString(fields["country"]),
		Presentation:       asString(fields["presentation"]),
		Fractions:          asString(fields["fractions"]),
		ProductType:        asString(fields["product_type"]),
		Quantity:           asString(fields["quantity"]),
		Price:              asString(fields["price"]),
	}
	return rec, nil
}

// StripCodeFence removes a surrounding markdown code fence, which some models
// wrap around JSON replies even when asked not to.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
