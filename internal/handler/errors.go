package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/storefront-cart/internal/cart"
	"github.com/fairyhunter13/storefront-cart/internal/middleware"
	"github.com/fairyhunter13/storefront-cart/internal/service"
)

// fieldNames maps struct fields to their JSON names for error messages.
var fieldNames = map[string]string{
	"ProductRef":      "product_ref",
	"UnitPrice":       "unit_price",
	"DiscountPercent": "discount_percent",
	"DiscountAmount":  "discount_amount",
	"ImageURL":        "image_url",
	"SelectedSize":    "selected_size",
	"SelectedColor":   "selected_color",
}

// formatValidationError converts the first validator error into a client message.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request"
	}

	fe := ve[0]
	field, ok := fieldNames[fe.Field()]
	if !ok {
		field = strings.ToLower(fe.Field())
	}

	switch fe.Tag() {
	case "required":
		return "invalid request: " + field + " is required"
	case "notblank":
		return "invalid request: " + field + " cannot be whitespace only"
	case "max":
		return "invalid request: " + field + " exceeds maximum length of " + fe.Param()
	case "gte":
		return "invalid request: " + field + " must be at least " + fe.Param()
	case "lte":
		return "invalid request: " + field + " must be at most " + fe.Param()
	default:
		return "invalid request: " + field + " is invalid"
	}
}

// writeError maps service and cart errors to an HTTP status and JSON body.
// Unexpected errors are logged and reported as 500.
func writeError(c *fiber.Ctx, err error, msg string) error {
	status, text := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Str("session_id", middleware.SessionID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg(msg)
	}
	return c.Status(status).JSON(fiber.Map{"error": text})
}

func statusFor(err error) (int, string) {
	switch {
	case service.IsInvalidArgument(err):
		return fiber.StatusBadRequest, invalidMessage(err)
	case errors.Is(err, service.ErrCouponNotFound):
		return fiber.StatusNotFound, "coupon not found"
	case errors.Is(err, cart.ErrLineNotFound):
		return fiber.StatusNotFound, "cart line not found"
	case errors.Is(err, service.ErrCouponExists):
		return fiber.StatusConflict, "coupon already exists"
	case errors.Is(err, service.ErrAlreadyClaimed):
		return fiber.StatusConflict, "coupon already claimed for this session"
	case errors.Is(err, service.ErrNoStock):
		return fiber.StatusUnprocessableEntity, "coupon out of stock"
	case errors.Is(err, service.ErrEmptyCart):
		return fiber.StatusUnprocessableEntity, "cart is empty"
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

// invalidMessage keeps the detail of "sentinel: detail" messages.
func invalidMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	if msg == service.ErrInvalidRequest.Error() {
		return msg
	}
	return "invalid request: " + msg
}
