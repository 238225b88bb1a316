// Package enrich merges registry fields into a structured medication record.
// The one rule that matters: a field read off the image is never overwritten,
// enrichment only fills gaps.
package enrich

import (
	"strconv"
	"strings"

	"medscan/internal/models"
)

// FillFromRegistry copies every non-empty registry field into the record where
// the record's field is still empty. Returns the names of the fields it
// filled, for run diagnostics.
func FillFromRegistry(rec models.MedicationRecord, entry models.RegistryEntry) (models.MedicationRecord, []string) {
	filled := make([]string, 0, 8)

	fill := func(dst *string, src, name string) {
		if strings.TrimSpace(*dst) != "" || strings.TrimSpace(src) == "" {
			return
		}
		*dst = src
		filled = append(filled, name)
	}

	fill(&rec.Name, entry.Name, "name")
	fill(&rec.CommonDenomination, entry.CommonDenomination, "common_denomination")
	fill(&rec.Concentration, entry.Concentration, "concentration")
	fill(&rec.Form, entry.Form, "form")
	fill(&rec.FormSimple, entry.FormSimple, "form_simple")
	fill(&rec.BrandName, entry.BrandName, "brand_name")
	fill(&rec.Country, entry.Country, "country")
	fill(&rec.Presentation, entry.Presentation, "presentation")
	fill(&rec.ProductType, entry.ProductType, "product_type")
	if entry.Fractions != nil {
		fill(&rec.Fractions, strconv.Itoa(*entry.Fractions), "fractions")
	}
	return rec, filled
}

// FillFromCandidate applies the same fill-empty-only rule using the best
// semantic match.
func FillFromCandidate(rec models.MedicationRecord, cand models.SemanticCandidate) (models.MedicationRecord, []string) {
	return FillFromRegistry(rec, cand.Entry)
}

// BuildSemanticQuery joins the record's identifying fields, in priority order,
// into the text that gets embedded for nearest-neighbor search.
func BuildSemanticQuery(rec models.MedicationRecord) string {
	parts := make([]string, 0, 5)
	for _, f := range []string{rec.Name, rec.CommonDenomination, rec.Concentration, rec.FormSimple, rec.BrandName} {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
