package models

// GatewayMode selects the Robokassa environment the store points at.
type GatewayMode string

const (
	GatewayModeLive GatewayMode = "live"
	GatewayModeTest GatewayMode = "test"
)

// Settings is the single-row admin configuration: gateway credentials,
// provider API credentials, and the notification sender. Secrets are stored
// encrypted and decrypted by the settings store on read.
type Settings struct {
	MerchantLogin string      `json:"merchant_login"`
	PassOne       string      `json:"-"`
	PassTwo       string      `json:"-"`
	Mode          GatewayMode `json:"mode"`

	ProviderClientID     string `json:"provider_client_id"`
	ProviderClientSecret string `json:"-"`

	NotifyFromEmail string `json:"notify_from_email"`
}

func (s *Settings) TestMode() bool {
	return s != nil && s.Mode == GatewayModeTest
}
