package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon represents a coupon in the back-office catalogue.
// Amount is the number of times it can be claimed.
type Coupon struct {
	Code            string          `json:"code"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Amount          int             `json:"amount"`
	RemainingAmount int             `json:"remaining_amount"`
	CreatedAt       time.Time       `json:"-"` // Not exposed in API
}

// CouponResponse is the API response DTO for GET /api/coupons/:code
type CouponResponse struct {
	Code            string          `json:"code"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Amount          int             `json:"amount"`
	RemainingAmount int             `json:"remaining_amount"`
	ClaimedBy       []string        `json:"claimed_by"`
}

// CreateCouponRequest is the DTO for creating a coupon
type CreateCouponRequest struct {
	Code           string           `json:"code" validate:"required,notblank,max=64"`
	DiscountAmount *decimal.Decimal `json:"discount_amount" validate:"required,gte=0"`
	Amount         *int             `json:"amount" validate:"required,gte=1"`
}
