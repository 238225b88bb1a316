package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"medscan/internal/models"
)

// Index stores and searches registry embeddings. Embeddings live in a column
// on items_gtin, so the vectorization job is an UPDATE pass over the registry
// and a search is a single cosine-distance query.
type Index struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func NewIndex(q Queryer) *Index {
	return &Index{q: q}
}

// Upsert writes one entry's embedding and stamps vectorized_at.
func (ix *Index) Upsert(ctx context.Context, entryID int64, vec []float32) error {
	_, err := ix.q.Exec(ctx, `
UPDATE items_gtin
SET embedding = $2::vector, vectorized_at = NOW()
WHERE id = $1`, entryID, ToLiteral(vec))
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Search returns candidates at or above threshold, best first. Entries that
// were never vectorized are invisible to it.
func (ix *Index) Search(ctx context.Context, queryVec []float32, topK int, threshold float64) ([]models.SemanticCandidate, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := ix.q.Query(ctx, `
SELECT id, gtin_code, COALESCE(gtin_code_type,''), COALESCE(pharmacy_type,''), COALESCE(product_type,''),
       name, COALESCE(common_denomination,''), COALESCE(concentration,''), COALESCE(form,''), COALESCE(form_simple,''),
       COALESCE(brand_name,''), COALESCE(country,''), COALESCE(presentation,''), COALESCE(code_rs_list,''),
       fractions, COALESCE(state,''),
       1 - (embedding <=> $1::vector) AS score,
       vectorized_at
FROM items_gtin
WHERE embedding IS NOT NULL
  AND COALESCE(state,'active') <> 'deleted'
  AND 1 - (embedding <=> $1::vector) >= $3
ORDER BY embedding <=> $1::vector
LIMIT $2`, ToLiteral(queryVec), topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.SemanticCandidate, 0, topK)
	for rows.Next() {
		var c models.SemanticCandidate
		var vectorizedAt *time.Time
		e := &c.Entry
		if err := rows.Scan(&e.ID, &e.GtinCode, &e.GtinCodeType, &e.PharmacyType, &e.ProductType,
			&e.Name, &e.CommonDenomination, &e.Concentration, &e.Form, &e.FormSimple,
			&e.BrandName, &e.Country, &e.Presentation, &e.CodeRsList,
			&e.Fractions, &e.State, &c.Score, &vectorizedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		if vectorizedAt != nil {
			c.VectorizedAt = *vectorizedAt
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

// Stats reports how much of the registry is vectorized.
func (ix *Index) Stats(ctx context.Context) (models.IndexStats, error) {
	var stats models.IndexStats
	err := ix.q.QueryRow(ctx, `
SELECT COUNT(*) FROM items_gtin WHERE embedding IS NOT NULL`).Scan(&stats.Count)
	if err != nil {
		return models.IndexStats{}, fmt.Errorf("count vectorized entries: %w", err)
	}
	if stats.Count > 0 {
		stats.Status = "ready"
	} else {
		stats.Status = "empty"
	}
	return stats, nil
}

func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// BuildSearchableText flattens a registry entry into the text that gets
// embedded. Labeled fields plus dosage-form synonyms, so "tableta" on a
// package can still find a registry row that says "comprimido".
func BuildSearchableText(e models.RegistryEntry) string {
	parts := make([]string, 0, 8)
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Medicamento", e.Name)
	add("Principio activo", e.CommonDenomination)
	add("Concentracion", e.Concentration)
	add("Forma", e.Form)
	if e.FormSimple != "" && e.FormSimple != e.Form {
		add("Tipo", e.FormSimple)
	}
	add("Marca", e.BrandName)
	add("Presentacion", e.Presentation)
	add("Categoria", e.ProductType)

	var synonyms []string
	form := strings.ToLower(e.Form)
	if strings.Contains(form, "comprimido") {
		synonyms = append(synonyms, "tableta pastilla pildora")
	}
	if strings.Contains(form, "jarabe") {
		synonyms = append(synonyms, "liquido oral suspension")
	}
	if strings.Contains(form, "inyectable") {
		synonyms = append(synonyms, "ampolla vial inyeccion")
	}
	if strings.Contains(strings.ToLower(e.FormSimple), "colirio") {
		synonyms = append(synonyms, "gotas oftalmicas ojos")
	}

	text := strings.Join(parts, " | ")
	if len(synonyms) > 0 {
		text += " | Sinonimos: " + strings.Join(synonyms, " ")
	}
	return text
}
