package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/fairyhunter13/storefront-cart/internal/middleware"
)

// ShelfServiceInterface defines the wishlist and recently-viewed operations.
type ShelfServiceInterface interface {
	Wishlist(ctx context.Context, sessionID string) ([]string, error)
	AddToWishlist(ctx context.Context, sessionID, ref string) ([]string, error)
	RemoveFromWishlist(ctx context.Context, sessionID, ref string) ([]string, error)
	ToggleWishlist(ctx context.Context, sessionID, ref string) (bool, error)
	RecentlyViewed(ctx context.Context, sessionID string) ([]string, error)
	RecordView(ctx context.Context, sessionID, ref string) ([]string, error)
}

// ShelfHandler serves the shopper's wishlist and recently viewed products.
type ShelfHandler struct {
	service ShelfServiceInterface
}

func NewShelfHandler(svc ShelfServiceInterface) *ShelfHandler {
	return &ShelfHandler{service: svc}
}

// GetWishlist handles GET /api/wishlist.
func (h *ShelfHandler) GetWishlist(c *fiber.Ctx) error {
	items, err := h.service.Wishlist(c.Context(), middleware.SessionID(c))
	if err != nil {
		return writeError(c, err, "failed to load wishlist")
	}
	return c.JSON(fiber.Map{"items": items})
}

// AddToWishlist handles POST /api/wishlist/:ref.
func (h *ShelfHandler) AddToWishlist(c *fiber.Ctx) error {
	items, err := h.service.AddToWishlist(c.Context(), middleware.SessionID(c), ref(c))
	if err != nil {
		return writeError(c, err, "failed to add to wishlist")
	}
	return c.JSON(fiber.Map{"items": items})
}

// RemoveFromWishlist handles DELETE /api/wishlist/:ref.
func (h *ShelfHandler) RemoveFromWishlist(c *fiber.Ctx) error {
	items, err := h.service.RemoveFromWishlist(c.Context(), middleware.SessionID(c), ref(c))
	if err != nil {
		return writeError(c, err, "failed to remove from wishlist")
	}
	return c.JSON(fiber.Map{"items": items})
}

// ToggleWishlist handles POST /api/wishlist/:ref/toggle.
func (h *ShelfHandler) ToggleWishlist(c *fiber.Ctx) error {
	productRef := ref(c)
	saved, err := h.service.ToggleWishlist(c.Context(), middleware.SessionID(c), productRef)
	if err != nil {
		return writeError(c, err, "failed to toggle wishlist")
	}
	return c.JSON(fiber.Map{"product_ref": productRef, "saved": saved})
}

// GetRecent handles GET /api/recent.
func (h *ShelfHandler) GetRecent(c *fiber.Ctx) error {
	items, err := h.service.RecentlyViewed(c.Context(), middleware.SessionID(c))
	if err != nil {
		return writeError(c, err, "failed to load recently viewed")
	}
	return c.JSON(fiber.Map{"items": items})
}

// RecordView handles POST /api/recent/:ref.
func (h *ShelfHandler) RecordView(c *fiber.Ctx) error {
	items, err := h.service.RecordView(c.Context(), middleware.SessionID(c), ref(c))
	if err != nil {
		return writeError(c, err, "failed to record product view")
	}
	return c.JSON(fiber.Map{"items": items})
}

// ref copies the :ref route param out of the request buffer, since the service keeps it.
func ref(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("ref"))
}
