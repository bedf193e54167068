package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/storefront-cart/internal/cart"
	"github.com/fairyhunter13/storefront-cart/internal/middleware"
	"github.com/fairyhunter13/storefront-cart/internal/model"
)

// CartServiceInterface defines the per-session cart operations.
type CartServiceInterface interface {
	Cart(ctx context.Context, sessionID string) (cart.Snapshot, error)
	AddItem(ctx context.Context, sessionID string, req *model.AddItemRequest) (cart.Snapshot, error)
	UpdateQuantity(ctx context.Context, sessionID, productRef, size string, quantity int) (cart.Snapshot, error)
	RemoveItem(ctx context.Context, sessionID, productRef, size string) (cart.Snapshot, error)
	ClearCart(ctx context.Context, sessionID string) (cart.Snapshot, error)
	ApplyCoupon(ctx context.Context, sessionID, code string) (cart.Snapshot, error)
	RemoveCoupon(ctx context.Context, sessionID string) (cart.Snapshot, error)
	OrderItems(ctx context.Context, sessionID string) ([]model.OrderItem, error)
	Checkout(ctx context.Context, sessionID string) (*model.CheckoutResponse, error)
}

// CartHandler handles HTTP requests for the shopper's cart.
type CartHandler struct {
	service   CartServiceInterface
	validator *validator.Validate
}

// NewCartHandler creates a new CartHandler with the given service and validator.
func NewCartHandler(svc CartServiceInterface, v *validator.Validate) *CartHandler {
	return &CartHandler{service: svc, validator: v}
}

func toCartResponse(s cart.Snapshot) model.CartResponse {
	return model.CartResponse{
		Lines:     s.Lines,
		Coupon:    s.Coupon,
		ItemCount: s.ItemCount(),
		Subtotal:  cart.FormatAmount(s.Total),
		Discount:  cart.FormatAmount(s.Discount()),
		Total:     cart.FormatAmount(s.GrandTotal()),
	}
}

// GetCart handles GET /api/cart.
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	snap, err := h.service.Cart(c.Context(), middleware.SessionID(c))
	if err != nil {
		return writeError(c, err, "failed to load cart")
	}
	return c.JSON(toCartResponse(snap))
}

// AddItem handles POST /api/cart/items.
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	var req model.AddItemRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	snap, err := h.service.AddItem(c.Context(), middleware.SessionID(c), &req)
	if err != nil {
		return writeError(c, err, "failed to add item to cart")
	}
	return c.JSON(toCartResponse(snap))
}

// UpdateQuantity handles PATCH /api/cart/items/:ref?size=
func (h *CartHandler) UpdateQuantity(c *fiber.Ctx) error {
	var req model.UpdateQuantityRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	snap, err := h.service.UpdateQuantity(c.Context(), middleware.SessionID(c), c.Params("ref"), c.Query("size"), *req.Quantity)
	if err != nil {
		return writeError(c, err, "failed to update cart quantity")
	}
	return c.JSON(toCartResponse(snap))
}

// RemoveItem handles DELETE /api/cart/items/:ref?size=
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	snap, err := h.service.RemoveItem(c.Context(), middleware.SessionID(c), c.Params("ref"), c.Query("size"))
	if err != nil {
		return writeError(c, err, "failed to remove item from cart")
	}
	return c.JSON(toCartResponse(snap))
}

// ClearCart handles DELETE /api/cart.
func (h *CartHandler) ClearCart(c *fiber.Ctx) error {
	snap, err := h.service.ClearCart(c.Context(), middleware.SessionID(c))
	if err != nil {
		return writeError(c, err, "failed to clear cart")
	}
	return c.JSON(toCartResponse(snap))
}

// ApplyCoupon handles POST /api/cart/coupon.
func (h *CartHandler) ApplyCoupon(c *fiber.Ctx) error {
	var req model.ApplyCouponRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	snap, err := h.service.ApplyCoupon(c.Context(), middleware.SessionID(c), req.Code)
	if err != nil {
		return writeError(c, err, "failed to apply coupon")
	}
	return c.JSON(toCartResponse(snap))
}

// RemoveCoupon handles DELETE /api/cart/coupon.
func (h *CartHandler) RemoveCoupon(c *fiber.Ctx) error {
	snap, err := h.service.RemoveCoupon(c.Context(), middleware.SessionID(c))
	if err != nil {
		return writeError(c, err, "failed to remove coupon")
	}
	return c.JSON(toCartResponse(snap))
}

// OrderItems handles GET /api/cart/order-items.
func (h *CartHandler) OrderItems(c *fiber.Ctx) error {
	items, err := h.service.OrderItems(c.Context(), middleware.SessionID(c))
	if err != nil {
		return writeError(c, err, "failed to load order items")
	}
	return c.JSON(fiber.Map{"items": items})
}

// Checkout handles POST /api/cart/checkout.
func (h *CartHandler) Checkout(c *fiber.Ctx) error {
	sessionID := middleware.SessionID(c)

	resp, err := h.service.Checkout(c.Context(), sessionID)
	if err != nil {
		return writeError(c, err, "failed to check out")
	}

	log.Info().
		Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
		Str("session_id", sessionID).
		Str("order_id", resp.OrderID).
		Msg("checkout completed")

	return c.Status(fiber.StatusCreated).JSON(resp)
}
