package model

import "github.com/shopspring/decimal"

// DefaultSize is the size assumed when a line is added without one.
const DefaultSize = "M"

var hundred = decimal.NewFromInt(100)

// CartLine is one purchasable selection, unique per (ProductRef, SelectedSize).
// Name and ImageURL are snapshotted when the line is added.
type CartLine struct {
	ProductRef      string          `json:"product_ref"`
	Name            string          `json:"name"`
	ImageURL        string          `json:"image_url"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent int             `json:"discount_percent"`
	Quantity        int             `json:"quantity"`
	SelectedSize    string          `json:"selected_size"`
	SelectedColor   string          `json:"selected_color,omitempty"`
}

// EffectivePrice is the unit price after the line's percent discount, before any coupon.
func (l CartLine) EffectivePrice() decimal.Decimal {
	if l.DiscountPercent <= 0 {
		return l.UnitPrice
	}
	factor := hundred.Sub(decimal.NewFromInt(int64(l.DiscountPercent))).Div(hundred)
	return l.UnitPrice.Mul(factor)
}

// Subtotal returns Quantity * EffectivePrice.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.EffectivePrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CouponState holds the single active coupon. Applied == false implies
// an empty Code and a zero DiscountAmount.
type CouponState struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Applied        bool            `json:"applied"`
}

// OrderItem is the order-submission projection of a CartLine.
type OrderItem struct {
	Product  string          `json:"product"`
	Name     string          `json:"name"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Size     string          `json:"size"`
	Color    string          `json:"color"`
}

// AddItemRequest is the DTO for POST /api/cart/items
type AddItemRequest struct {
	ProductRef      string           `json:"product_ref" validate:"required,notblank,max=255"`
	Name            string           `json:"name" validate:"max=255"`
	ImageURL        string           `json:"image_url" validate:"max=2048"`
	UnitPrice       *decimal.Decimal `json:"unit_price" validate:"required,gte=0"`
	DiscountPercent int              `json:"discount_percent" validate:"gte=0,lte=100"`
	Quantity        int              `json:"quantity" validate:"omitempty,gte=1"`
	SelectedSize    string           `json:"selected_size" validate:"max=16"`
	SelectedColor   string           `json:"selected_color" validate:"max=64"`
}

// UpdateQuantityRequest is the DTO for PATCH /api/cart/items/:ref
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=1"`
}

// ApplyCouponRequest is the DTO for POST /api/cart/coupon
type ApplyCouponRequest struct {
	Code string `json:"code" validate:"required,notblank,max=64"`
}

// CartResponse is the API view of a cart. Money fields are rounded to 2 places.
type CartResponse struct {
	Lines     []CartLine  `json:"lines"`
	Coupon    CouponState `json:"coupon"`
	ItemCount int         `json:"item_count"`
	Subtotal  string      `json:"subtotal"`
	Discount  string      `json:"discount"`
	Total     string      `json:"total"`
}
