package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"medscan/internal/models"
)

const registryColumns = `
id, gtin_code, COALESCE(gtin_code_type,''), COALESCE(pharmacy_type,''), COALESCE(product_type,''),
name, COALESCE(common_denomination,''), COALESCE(concentration,''), COALESCE(form,''), COALESCE(form_simple,''),
COALESCE(brand_name,''), COALESCE(country,''), COALESCE(presentation,''), COALESCE(code_rs_list,''),
fractions, COALESCE(state,'')`

// RegistryRepo reads the authoritative GTIN product registry. The pipeline
// never writes to it; the only mutation anywhere is the vector column handled
// by the vector package.
type RegistryRepo struct {
	db *DB
}

func NewRegistryRepo(db *DB) *RegistryRepo {
	return &RegistryRepo{db: db}
}

// GetByCode fetches the entry whose gtin_code matches exactly. A miss is
// (nil, nil), not an error.
func (r *RegistryRepo) GetByCode(ctx context.Context, code string) (*models.RegistryEntry, error) {
	row := r.db.Pool.QueryRow(ctx, `
SELECT `+registryColumns+`
FROM items_gtin
WHERE gtin_code = $1 AND COALESCE(state,'active') <> 'deleted'
LIMIT 1`, code)
	entry, err := scanRegistryEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registry entry by code: %w", err)
	}
	return &entry, nil
}

// Search matches name, common denomination, brand or barcode with a
// case-insensitive substring, for the operator-facing registry browse
// endpoint.
func (r *RegistryRepo) Search(ctx context.Context, term string, limit int) ([]models.RegistryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+registryColumns+`
FROM items_gtin
WHERE (name ILIKE '%' || $1 || '%'
   OR common_denomination ILIKE '%' || $1 || '%'
   OR brand_name ILIKE '%' || $1 || '%'
   OR gtin_code LIKE $1 || '%')
  AND COALESCE(state,'active') <> 'deleted'
ORDER BY name
LIMIT $2`, term, limit)
	if err != nil {
		return nil, fmt.Errorf("search registry: %w", err)
	}
	defer rows.Close()
	out := make([]models.RegistryEntry, 0)
	for rows.Next() {
		entry, err := scanRegistryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ListActive pages through non-deleted entries in id order, for the
// vectorization job.
func (r *RegistryRepo) ListActive(ctx context.Context, afterID int64, limit int) ([]models.RegistryEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+registryColumns+`
FROM items_gtin
WHERE id > $1 AND COALESCE(state,'active') <> 'deleted'
ORDER BY id
LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()
	out := make([]models.RegistryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanRegistryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *RegistryRepo) CountEntries(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
SELECT COUNT(*) FROM items_gtin WHERE COALESCE(state,'active') <> 'deleted'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count registry entries: %w", err)
	}
	return n, nil
}

// HasAnyData reports whether the registry holds at least one usable entry.
func (r *RegistryRepo) HasAnyData(ctx context.Context) (bool, error) {
	var one int
	err := r.db.Pool.QueryRow(ctx, `
SELECT 1 FROM items_gtin WHERE COALESCE(state,'active') <> 'deleted' LIMIT 1`).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe registry: %w", err)
	}
	return true, nil
}

func scanRegistryEntry(row pgx.Row) (models.RegistryEntry, error) {
	var e models.RegistryEntry
	err := row.Scan(&e.ID, &e.GtinCode, &e.GtinCodeType, &e.PharmacyType, &e.ProductType,
		&e.Name, &e.CommonDenomination, &e.Concentration, &e.Form, &e.FormSimple,
		&e.BrandName, &e.Country, &e.Presentation, &e.CodeRsList,
		&e.Fractions, &e.State)
	return e, err
}
