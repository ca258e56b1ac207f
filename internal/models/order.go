package models

import "time"

type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusActive  OrderStatus = "active"
	StatusExpired OrderStatus = "expired"
	StatusFailed  OrderStatus = "failed"
)

type OrderType string

const (
	OrderTypePurchase OrderType = "esim_purchase"
	OrderTypeTopup    OrderType = "esim_topup"
	OrderTypeOther    OrderType = "other"
)

// Order is a storefront order for an eSIM package. ProviderOrderID is the
// gateway-facing invoice identifier: 13+ digits when issued upstream, or the
// internal numeric id when checkout created the invoice itself.
type Order struct {
	ID              int64          `json:"id"`
	ProviderOrderID string         `json:"provider_order_id"`
	CustomerEmail   string         `json:"customer_email"`
	PackageID       int64          `json:"package_id"`
	PlanName        string         `json:"plan_name"`
	Amount          float64        `json:"amount"`
	Currency        string         `json:"currency"`
	Status          OrderStatus    `json:"status"`
	OrderType       OrderType      `json:"order_type"`
	ICCID           string         `json:"iccid"`
	ActivationCode  string         `json:"activation_code"`
	LPA             string         `json:"lpa"`
	QRCodeURL       string         `json:"qr_code_url"`
	InstallURL      string         `json:"install_url"`
	CountryCode     string         `json:"country_code"`
	CountryName     string         `json:"country_name"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ActivatedAt     time.Time      `json:"activated_at"`
}

// Artifacts are the provisioning outputs written onto an order after a
// successful provider call. Empty fields mean the provider did not return
// that piece; persistence never overwrites an existing value with empty.
type Artifacts struct {
	ICCID          string
	ActivationCode string
	LPA            string
	QRCodeURL      string
	InstallURL     string
	PlanName       string
}

// Provisioned reports whether the order already carries provisioning
// artifacts. Artifact presence, not a separate status value, is the source of
// truth for "delivered": status active without artifacts means the payment is
// confirmed but the profile has not been issued yet.
func (o *Order) Provisioned() bool {
	if o == nil {
		return false
	}
	return o.ICCID != "" || o.LPA != "" || o.QRCodeURL != "" || o.ActivationCode != "" || o.InstallURL != ""
}

// MetaString returns a string metadata value, tolerating an absent map.
func (o *Order) MetaString(key string) string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	if v, ok := o.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Metadata keys carried across fulfillment steps.
const (
	MetaPackageSlug     = "package_slug"
	MetaExistingICCID   = "existing_iccid"
	MetaOriginalOrderID = "original_order_id"
	MetaCountryCode     = "country_code"
	MetaCountryName     = "country_name"
	MetaSource          = "source"
)

// PackageSlug resolves the provider slug recorded at checkout, if any.
func (o *Order) PackageSlug() string {
	return o.MetaString(MetaPackageSlug)
}

// ExistingICCID returns the ICCID of the profile a top-up order extends.
// Stored both as a column and in metadata; the column wins when set.
func (o *Order) ExistingICCID() string {
	if o == nil {
		return ""
	}
	if o.ICCID != "" {
		return o.ICCID
	}
	return o.MetaString(MetaExistingICCID)
}
