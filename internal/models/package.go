package models

import "time"

type PlanType string

const (
	PlanTypePurchase PlanType = "purchase"
	PlanTypeTopup    PlanType = "topup"
)

// Package is a catalog row for a purchasable eSIM plan. Slug is the
// provider-facing package identifier ("merhaba-7days-1gb"); ID is the small
// internal numeric id stored on orders.
type Package struct {
	ID           int64     `json:"id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	CountryCode  string    `json:"country_code"`
	CountryCodes []string  `json:"country_codes"`
	CountryName  string    `json:"country_name"`
	ValidityDays int       `json:"validity_days"`
	DataAmountMB int64     `json:"data_amount_mb"`
	IsUnlimited  bool      `json:"is_unlimited"`
	Price        float64   `json:"price"`
	PlanType     PlanType  `json:"plan_type"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}
