package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderPlaced is published to the order exchange at checkout.
type OrderPlaced struct {
	OrderID    string          `json:"order_id"`
	SessionID  string          `json:"session_id"`
	Items      []OrderItem     `json:"items"`
	CouponCode string          `json:"coupon_code,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// CheckoutResponse is returned by POST /api/cart/checkout
type CheckoutResponse struct {
	OrderID   string `json:"order_id"`
	ItemCount int    `json:"item_count"`
	Subtotal  string `json:"subtotal"`
	Discount  string `json:"discount"`
	Total     string `json:"total"`
	Currency  string `json:"currency"`
}
