package enrich

import (
	"testing"

	"medscan/internal/models"

	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestFillFromRegistryFillsOnlyEmptyFields(t *testing.T) {
	rec := models.MedicationRecord{
		Name:          "LAGRICEL OFTENO",
		Concentration: "4 MG/ML",
	}
	entry := models.RegistryEntry{
		Name:               "LAGRICEL OFTENO SOL 4MG",
		CommonDenomination: "HIALURONATO SODICO",
		Concentration:      "0.4%",
		Form:               "SOLUCION OFTALMICA",
		FormSimple:         "COLIRIO",
		BrandName:          "SOPHIA",
		Country:            "MX",
		Presentation:       "FRASCO GOTERO",
		Fractions:          intPtr(1),
	}

	out, filled := FillFromRegistry(rec, entry)

	// Populated fields stay exactly as extracted.
	require.Equal(t, "LAGRICEL OFTENO", out.Name)
	require.Equal(t, "4 MG/ML", out.Concentration)

	// Gaps are filled.
	require.Equal(t, "HIALURONATO SODICO", out.CommonDenomination)
	require.Equal(t, "SOLUCION OFTALMICA", out.Form)
	require.Equal(t, "COLIRIO", out.FormSimple)
	require.Equal(t, "SOPHIA", out.BrandName)
	require.Equal(t, "MX", out.Country)
	require.Equal(t, "FRASCO GOTERO", out.Presentation)
	require.Equal(t, "1", out.Fractions)

	require.Contains(t, filled, "common_denomination")
	require.Contains(t, filled, "fractions")
	require.NotContains(t, filled, "name")
	require.NotContains(t, filled, "concentration")
}

func TestFillFromRegistryIgnoresEmptyRegistryFields(t *testing.T) {
	rec := models.MedicationRecord{Name: "ASPIRINA"}
	out, filled := FillFromRegistry(rec, models.RegistryEntry{Name: "ASPIRINA 500MG", BrandName: "  "})
	require.Equal(t, "ASPIRINA", out.Name)
	require.Empty(t, out.BrandName)
	require.Empty(t, filled)
}

func TestFillFromRegistryIdempotent(t *testing.T) {
	rec := models.MedicationRecord{Name: "LAGRICEL OFTENO"}
	entry := models.RegistryEntry{
		Name:               "LAGRICEL",
		CommonDenomination: "HIALURONATO SODICO",
		BrandName:          "SOPHIA",
		Fractions:          intPtr(30),
	}

	once, filledOnce := FillFromRegistry(rec, entry)
	require.NotEmpty(t, filledOnce)

	twice, filledTwice := FillFromRegistry(once, entry)
	require.Equal(t, once, twice)
	require.Empty(t, filledTwice)
}

func TestFillFromCandidateMatchesRegistryRule(t *testing.T) {
	rec := models.MedicationRecord{Name: "DOLEX", BrandName: "GSK"}
	cand := models.SemanticCandidate{
		Entry: models.RegistryEntry{Name: "DOLEX FORTE", BrandName: "OTHER", Presentation: "CAJA X 24"},
		Score: 0.91,
	}
	out, filled := FillFromCandidate(rec, cand)
	require.Equal(t, "GSK", out.BrandName)
	require.Equal(t, "CAJA X 24", out.Presentation)
	require.Equal(t, []string{"presentation"}, filled)
}

func TestBuildSemanticQuery(t *testing.T) {
	rec := models.MedicationRecord{
		Name:               "LAGRICEL OFTENO",
		CommonDenomination: "HIALURONATO SODICO",
		FormSimple:         "COLIRIO",
	}
	require.Equal(t, "LAGRICEL OFTENO HIALURONATO SODICO COLIRIO", BuildSemanticQuery(rec))

	require.Equal(t, "", BuildSemanticQuery(models.MedicationRecord{}))
	require.Equal(t, "IBUPROFENO 400 MG", BuildSemanticQuery(models.MedicationRecord{
		CommonDenomination: "IBUPROFENO",
		Concentration:      "400 MG",
	}))
}
