package vector

import (
	"strings"
	"testing"

	"medscan/internal/models"
)

func TestToLiteral(t *testing.T) {
	got := ToLiteral([]float32{0.5, -1})
	if !strings.HasPrefix(got, "[0.5") || !strings.HasSuffix(got, "]") || !strings.Contains(got, ",-1") {
		t.Fatalf("unexpected literal: %q", got)
	}
}

func TestBuildSearchableText(t *testing.T) {
	e := models.RegistryEntry{
		Name:               "TEMPRA FORTE",
		CommonDenomination: "Paracetamol",
		Concentration:      "500 mg",
		Form:               "comprimido recubierto",
		FormSimple:         "comprimido",
		BrandName:          "Bristol",
	}
	text := BuildSearchableText(e)
	if !strings.Contains(text, "Medicamento: TEMPRA FORTE") {
		t.Fatalf("missing name: %q", text)
	}
	if !strings.Contains(text, "Principio activo: Paracetamol") {
		t.Fatalf("missing active ingredient: %q", text)
	}
	if !strings.Contains(text, "Sinonimos: tableta pastilla pildora") {
		t.Fatalf("missing form synonyms: %q", text)
	}
}

func TestBuildSearchableText_SkipsEmptyAndDuplicateForm(t *testing.T) {
	e := models.RegistryEntry{Name: "SUERO", Form: "solucion", FormSimple: "solucion"}
	text := BuildSearchableText(e)
	if strings.Contains(text, "Tipo:") {
		t.Fatalf("duplicate form should be dropped: %q", text)
	}
	if strings.Contains(text, "Marca:") {
		t.Fatalf("empty fields should be dropped: %q", text)
	}
}
