package service

import "errors"

var (
	// ErrCouponExists is returned when attempting to create a coupon that already exists
	ErrCouponExists = errors.New("coupon already exists")

	// ErrCouponNotFound is returned when a coupon code is unknown
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyClaimed is returned when a session redeems a coupon it already redeemed
	ErrAlreadyClaimed = errors.New("coupon already claimed by session")

	// ErrNoStock is returned when a coupon has no remaining redemptions
	ErrNoStock = errors.New("coupon out of stock")

	// ErrEmptyCart is returned when checking out a cart without lines
	ErrEmptyCart = errors.New("cart is empty")
)
