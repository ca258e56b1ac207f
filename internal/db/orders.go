package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simshopapp/simshop/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

var ErrInvalidStatusTransition = errors.New("invalid order status transition")

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, provider_order_id, customer_email, package_id, plan_name,
	amount, currency, status, order_type,
	iccid, activation_code, lpa, qr_code_url, install_url,
	country_code, country_name, expires_at, metadata,
	created_at, updated_at, activated_at
`

func (s *OrderStore) Create(ctx context.Context, order *Order) error {
	metadataJSON, err := json.Marshal(order.Metadata)
	if err != nil {
		return err
	}

	status := order.Status
	if status == "" {
		status = StatusPending
	}
	orderType := order.OrderType
	if orderType == "" {
		orderType = models.OrderTypePurchase
	}

	query := `
		INSERT INTO esim_orders (
			provider_order_id, customer_email, package_id, plan_name,
			amount, currency, status, order_type,
			iccid, country_code, country_name, expires_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	row := s.pool.QueryRow(ctx, query,
		textOrNull(order.ProviderOrderID),
		order.CustomerEmail,
		int8OrNull(order.PackageID),
		textOrNull(order.PlanName),
		order.Amount,
		order.Currency,
		string(status),
		string(orderType),
		textOrNull(order.ICCID),
		textOrNull(order.CountryCode),
		textOrNull(order.CountryName),
		timeOrNull(order.ExpiresAt),
		metadataJSON,
	)

	var createdAt pgtype.Timestamptz
	if err := row.Scan(&order.ID, &createdAt); err != nil {
		return err
	}
	order.Status = status
	order.OrderType = orderType
	order.CreatedAt = createdAt.Time

	// Self-issued invoices use the row id as the gateway reference.
	if order.ProviderOrderID == "" {
		order.ProviderOrderID = strconv.FormatInt(order.ID, 10)
		_, err = s.pool.Exec(ctx,
			`UPDATE esim_orders SET provider_order_id = $1 WHERE id = $2`,
			order.ProviderOrderID, order.ID,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, id int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM esim_orders WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, id))
}

func (s *OrderStore) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM esim_orders WHERE provider_order_id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, providerOrderID))
}

// SearchByPartialReference is the last-resort lookup for invoice ids the
// gateway mangled in transit. Newest match wins.
func (s *OrderStore) SearchByPartialReference(ctx context.Context, reference string) (*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM esim_orders
		WHERE provider_order_id ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, reference))
}

// MarkActive confirms payment. The transition is guarded in SQL so that a
// terminal order can never be reopened by a late webhook; calling it on an
// already-active order is a no-op success.
func (s *OrderStore) MarkActive(ctx context.Context, orderID int64) error {
	query := `
		UPDATE esim_orders
		SET status = $1,
		    activated_at = COALESCE(activated_at, NOW()),
		    updated_at = NOW()
		WHERE id = $2 AND status IN ('pending', 'active')
	`
	cmdTag, err := s.pool.Exec(ctx, query, StatusActive, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending/active", ErrInvalidStatusTransition)
	}
	return nil
}

// SaveArtifacts persists provisioning output. COALESCE with NULLIF keeps any
// value already on the row when the new one is empty, so a partial provider
// response never wipes artifacts written earlier.
func (s *OrderStore) SaveArtifacts(ctx context.Context, orderID int64, artifacts models.Artifacts) error {
	query := `
		UPDATE esim_orders
		SET iccid           = COALESCE(NULLIF($1, ''), iccid),
		    activation_code = COALESCE(NULLIF($2, ''), activation_code),
		    lpa             = COALESCE(NULLIF($3, ''), lpa),
		    qr_code_url     = COALESCE(NULLIF($4, ''), qr_code_url),
		    install_url     = COALESCE(NULLIF($5, ''), install_url),
		    plan_name       = COALESCE(NULLIF($6, ''), plan_name),
		    updated_at      = NOW()
		WHERE id = $7
	`
	cmdTag, err := s.pool.Exec(ctx, query,
		artifacts.ICCID,
		artifacts.ActivationCode,
		artifacts.LPA,
		artifacts.QRCodeURL,
		artifacts.InstallURL,
		artifacts.PlanName,
		orderID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *OrderStore) UpdateProviderOrderID(ctx context.Context, orderID int64, providerOrderID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE esim_orders SET provider_order_id = $1, updated_at = NOW() WHERE id = $2`,
		providerOrderID, orderID,
	)
	return err
}

func (s *OrderStore) SetExpiry(ctx context.Context, orderID int64, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE esim_orders SET expires_at = $1, updated_at = NOW() WHERE id = $2`,
		expiresAt, orderID,
	)
	return err
}

func (s *OrderStore) UpdateCountry(ctx context.Context, orderID int64, code, name string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE esim_orders SET country_code = $1, country_name = $2, updated_at = NOW() WHERE id = $3`,
		code, name, orderID,
	)
	return err
}

// FindProfileByICCID returns the order that originally provisioned the given
// profile: the oldest one carrying the ICCID that is not itself a top-up.
func (s *OrderStore) FindProfileByICCID(ctx context.Context, iccid string) (*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM esim_orders
		WHERE iccid = $1 AND order_type <> 'esim_topup'
		ORDER BY created_at ASC
		LIMIT 1
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, iccid))
}

func (s *OrderStore) scanOne(row pgx.Row) (*Order, error) {
	var (
		order           Order
		providerOrderID pgtype.Text
		packageID       pgtype.Int8
		planName        pgtype.Text
		iccid           pgtype.Text
		activationCode  pgtype.Text
		lpa             pgtype.Text
		qrCodeURL       pgtype.Text
		installURL      pgtype.Text
		countryCode     pgtype.Text
		countryName     pgtype.Text
		expiresAt       pgtype.Timestamptz
		metadataJSON    []byte
		createdAt       pgtype.Timestamptz
		updatedAt       pgtype.Timestamptz
		activatedAt     pgtype.Timestamptz
		status          string
		orderType       string
	)

	err := row.Scan(
		&order.ID, &providerOrderID, &order.CustomerEmail, &packageID, &planName,
		&order.Amount, &order.Currency, &status, &orderType,
		&iccid, &activationCode, &lpa, &qrCodeURL, &installURL,
		&countryCode, &countryName, &expiresAt, &metadataJSON,
		&createdAt, &updatedAt, &activatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = OrderStatus(status)
	order.OrderType = OrderType(orderType)
	order.ProviderOrderID = providerOrderID.String
	order.PackageID = packageID.Int64
	order.PlanName = planName.String
	order.ICCID = iccid.String
	order.ActivationCode = activationCode.String
	order.LPA = lpa.String
	order.QRCodeURL = qrCodeURL.String
	order.InstallURL = installURL.String
	order.CountryCode = countryCode.String
	order.CountryName = countryName.String
	if expiresAt.Valid {
		order.ExpiresAt = expiresAt.Time
	}
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time
	if activatedAt.Valid {
		order.ActivatedAt = activatedAt.Time
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &order.Metadata); err != nil {
			return nil, err
		}
	}
	return &order, nil
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func int8OrNull(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

func timeOrNull(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
