package db

import "github.com/simshopapp/simshop/internal/models"

type Order = models.Order
type OrderStatus = models.OrderStatus
type OrderType = models.OrderType
type Package = models.Package
type PlanType = models.PlanType
type Settings = models.Settings

const (
	StatusPending = models.StatusPending
	StatusActive  = models.StatusActive
	StatusExpired = models.StatusExpired
	StatusFailed  = models.StatusFailed
)

const (
	OrderTypePurchase = models.OrderTypePurchase
	OrderTypeTopup    = models.OrderTypeTopup
	OrderTypeOther    = models.OrderTypeOther
)
