package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PackageStore struct {
	pool *pgxpool.Pool
}

func NewPackageStore(pool *pgxpool.Pool) *PackageStore {
	return &PackageStore{pool: pool}
}

const packageColumns = `
	id, package_id, title, country_code, country_codes, country_name,
	validity_days, data_amount_mb, is_unlimited, price, plan_type, enabled,
	created_at
`

func (s *PackageStore) GetByID(ctx context.Context, id int64) (*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM esim_packages WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, id))
}

func (s *PackageStore) GetBySlug(ctx context.Context, slug string) (*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM esim_packages WHERE package_id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, slug))
}

// ListEnabled backs the plan-catalog read API. Rows are small and the table
// fits in memory; pagination is not needed.
func (s *PackageStore) ListEnabled(ctx context.Context) ([]*Package, error) {
	query := `SELECT ` + packageColumns + ` FROM esim_packages WHERE enabled ORDER BY country_name, price`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []*Package
	for rows.Next() {
		pkg, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

func (s *PackageStore) scanOne(row pgx.Row) (*Package, error) {
	var (
		pkg          Package
		slug         pgtype.Text
		title        pgtype.Text
		countryCode  pgtype.Text
		countryName  pgtype.Text
		validityDays pgtype.Int4
		dataAmountMB pgtype.Int8
		planType     pgtype.Text
		createdAt    pgtype.Timestamptz
	)

	err := row.Scan(
		&pkg.ID, &slug, &title, &countryCode, &pkg.CountryCodes, &countryName,
		&validityDays, &dataAmountMB, &pkg.IsUnlimited, &pkg.Price, &planType, &pkg.Enabled,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	pkg.Slug = slug.String
	pkg.Title = title.String
	pkg.CountryCode = countryCode.String
	pkg.CountryName = countryName.String
	pkg.ValidityDays = int(validityDays.Int32)
	pkg.DataAmountMB = dataAmountMB.Int64
	pkg.PlanType = PlanType(planType.String)
	pkg.CreatedAt = createdAt.Time
	return &pkg, nil
}
