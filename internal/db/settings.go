package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simshopapp/simshop/internal/crypto"
	"github.com/simshopapp/simshop/internal/models"
)

// SettingsStore reads the single admin_config row. Gateway passwords and the
// provider client secret are stored encrypted; they come back decrypted here
// and nowhere else.
type SettingsStore struct {
	pool      *pgxpool.Pool
	encryptor crypto.Encryptor
}

func NewSettingsStore(pool *pgxpool.Pool, encryptor crypto.Encryptor) *SettingsStore {
	return &SettingsStore{pool: pool, encryptor: encryptor}
}

func (s *SettingsStore) Get(ctx context.Context) (*Settings, error) {
	query := `
		SELECT merchant_login, pass_one, pass_two, mode,
		       provider_client_id, provider_client_secret, notify_from_email
		FROM admin_config
		ORDER BY id
		LIMIT 1
	`

	var (
		settings       Settings
		passOne        pgtype.Text
		passTwo        pgtype.Text
		mode           pgtype.Text
		providerSecret pgtype.Text
		notifyFrom     pgtype.Text
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&settings.MerchantLogin, &passOne, &passTwo, &mode,
		&settings.ProviderClientID, &providerSecret, &notifyFrom,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	settings.Mode = models.GatewayMode(mode.String)
	if settings.Mode == "" {
		settings.Mode = models.GatewayModeLive
	}
	settings.NotifyFromEmail = notifyFrom.String

	if settings.PassOne, err = s.decrypt(passOne.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt gateway password one: %w", err)
	}
	if settings.PassTwo, err = s.decrypt(passTwo.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt gateway password two: %w", err)
	}
	if settings.ProviderClientSecret, err = s.decrypt(providerSecret.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt provider client secret: %w", err)
	}

	return &settings, nil
}

// Update writes the admin_config row, encrypting whichever secrets are set.
// Empty secret fields keep their stored values.
func (s *SettingsStore) Update(ctx context.Context, settings *Settings) error {
	passOne, err := s.encryptOptional(settings.PassOne)
	if err != nil {
		return fmt.Errorf("failed to encrypt gateway password one: %w", err)
	}
	passTwo, err := s.encryptOptional(settings.PassTwo)
	if err != nil {
		return fmt.Errorf("failed to encrypt gateway password two: %w", err)
	}
	providerSecret, err := s.encryptOptional(settings.ProviderClientSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt provider client secret: %w", err)
	}

	query := `
		UPDATE admin_config
		SET merchant_login         = $1,
		    pass_one               = COALESCE(NULLIF($2, ''), pass_one),
		    pass_two               = COALESCE(NULLIF($3, ''), pass_two),
		    mode                   = $4,
		    provider_client_id     = $5,
		    provider_client_secret = COALESCE(NULLIF($6, ''), provider_client_secret),
		    notify_from_email      = $7,
		    updated_at             = NOW()
		WHERE id = (SELECT id FROM admin_config ORDER BY id LIMIT 1)
	`
	_, err = s.pool.Exec(ctx, query,
		settings.MerchantLogin, passOne, passTwo, string(settings.Mode),
		settings.ProviderClientID, providerSecret, settings.NotifyFromEmail,
	)
	return err
}

func (s *SettingsStore) decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.encryptor.Decrypt(value)
}

func (s *SettingsStore) encryptOptional(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.encryptor.Encrypt(value)
}
