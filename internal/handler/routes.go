package handler

import "github.com/gofiber/fiber/v2"

// Handlers groups the route handlers mounted by Register.
type Handlers struct {
	Cart   *CartHandler
	Shelf  *ShelfHandler
	Coupon *CouponHandler
	Health *HealthHandler
}

// Register mounts the API routes on app. Session-scoped routes expect the
// Visitor middleware to run first.
func Register(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.Check)

	api := app.Group("/api")

	api.Get("/cart", h.Cart.GetCart)
	api.Delete("/cart", h.Cart.ClearCart)
	api.Post("/cart/items", h.Cart.AddItem)
	api.Patch("/cart/items/:ref", h.Cart.UpdateQuantity)
	api.Delete("/cart/items/:ref", h.Cart.RemoveItem)
	api.Post("/cart/coupon", h.Cart.ApplyCoupon)
	api.Delete("/cart/coupon", h.Cart.RemoveCoupon)
	api.Get("/cart/order-items", h.Cart.OrderItems)
	api.Post("/cart/checkout", h.Cart.Checkout)

	api.Get("/wishlist", h.Shelf.GetWishlist)
	api.Post("/wishlist/:ref", h.Shelf.AddToWishlist)
	api.Delete("/wishlist/:ref", h.Shelf.RemoveFromWishlist)
	api.Post("/wishlist/:ref/toggle", h.Shelf.ToggleWishlist)
	api.Get("/recent", h.Shelf.GetRecent)
	api.Post("/recent/:ref", h.Shelf.RecordView)

	api.Post("/coupons", h.Coupon.CreateCoupon)
	api.Get("/coupons/:code", h.Coupon.GetCoupon)
}
