package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/storefront-cart/internal/cart"
	"github.com/fairyhunter13/storefront-cart/internal/model"
	"github.com/fairyhunter13/storefront-cart/internal/recent"
	"github.com/fairyhunter13/storefront-cart/internal/store"
	"github.com/fairyhunter13/storefront-cart/internal/wishlist"
)

// CouponResolver resolves codes a shopper applies and redeems them at checkout.
type CouponResolver interface {
	Resolve(ctx context.Context, code string) (*model.Coupon, error)
	ClaimCoupon(ctx context.Context, sessionID, code string, onClaimed func(*model.Coupon) error) error
}

// OrderPublisher hands a placed order to the order pipeline.
type OrderPublisher interface {
	PublishPlaced(ctx context.Context, msg model.OrderPlaced) error
}

// CartOptions configure per-session state.
type CartOptions struct {
	KeyPrefix   string
	MaxQuantity int
	DefaultSize string
	Currency    string
	RecentLimit int
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is used when CartOptions.IdleTimeout is not set.
const DefaultIdleTimeout = 30 * time.Minute

// loadTimeout bounds hydration, which runs detached from the request context.
const loadTimeout = 5 * time.Second

// session is the state owned by one shopper, loaded on first use.
type session struct {
	mu       sync.Mutex // guards loading
	loaded   bool
	cart     *cart.Manager
	wishlist *wishlist.Wishlist
	recent   *recent.List

	// checkout serializes checkouts of the same session.
	checkout sync.Mutex
	lastUsed time.Time // guarded by CartService.mu
}

// CartService routes shopper operations to the state of their session.
// Sessions live in memory while in use; the store is the source of truth.
type CartService struct {
	store     store.Store
	coupons   CouponResolver
	publisher OrderPublisher
	opts      CartOptions
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewCartService creates a CartService persisting through st.
func NewCartService(st store.Store, coupons CouponResolver, publisher OrderPublisher, opts CartOptions) *CartService {
	if opts.DefaultSize == "" {
		opts.DefaultSize = model.DefaultSize
	}
	if opts.RecentLimit < 1 {
		opts.RecentLimit = recent.DefaultLimit
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &CartService{
		store:     st,
		coupons:   coupons,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
}

// session returns the loaded state of sessionID. A failed load is not
// remembered, so the next call reads the store again.
func (s *CartService) session(ctx context.Context, sessionID string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
		activeSessions.Set(float64(len(s.sessions)))
	}
	sess.lastUsed = s.now()
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.loaded {
		return sess, nil
	}

	// A cancelled request must not look like an absent cart to the next one.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
	defer cancel()

	keys := store.KeysFor(s.opts.KeyPrefix, sessionID)
	mgr, err := cart.Load(loadCtx, s.store, keys,
		cart.WithMaxQuantity(s.opts.MaxQuantity),
		cart.WithDefaultSize(s.opts.DefaultSize),
	)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	w, err := wishlist.Load(loadCtx, s.store, keys.Wishlist)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	l, err := recent.Load(loadCtx, s.store, keys.Recent, s.opts.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess.cart, sess.wishlist, sess.recent = mgr, w, l
	sess.loaded = true
	log.Debug().Str("session_id", sessionID).Msg("session state loaded")
	return sess, nil
}

// EvictIdle drops sessions not used within the idle timeout and returns how many
// were dropped. An evicted session is reloaded from the store on its next request.
func (s *CartService) EvictIdle() int {
	cutoff := s.now().Add(-s.opts.IdleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	activeSessions.Set(float64(len(s.sessions)))
	return evicted
}

// ActiveSessions is the number of sessions held in memory.
func (s *CartService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RunEvictor calls EvictIdle every interval until ctx is done.
func (s *CartService) RunEvictor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				log.Debug().Int("evicted", n).Int("active", s.ActiveSessions()).Msg("evicted idle sessions")
			}
		}
	}
}

// Cart returns the current cart of a session.
func (s *CartService) Cart(ctx context.Context, sessionID string) (cart.Snapshot, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	return sess.cart.Snapshot(), nil
}

// cartOf returns the cart manager of a session.
func (s *CartService) cartOf(ctx context.Context, sessionID string) (*cart.Manager, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.cart, nil
}

// AddItem adds a product selection to the cart.
func (s *CartService) AddItem(ctx context.Context, sessionID string, req *model.AddItemRequest) (cart.Snapshot, error) {
	if req == nil || req.UnitPrice == nil {
		return cart.Snapshot{}, ErrInvalidRequest
	}
	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, observe("add_item", err)
	}

	err = mgr.AddToCart(ctx, model.CartLine{
		ProductRef:      req.ProductRef,
		Name:            req.Name,
		ImageURL:        req.ImageURL,
		UnitPrice:       *req.UnitPrice,
		DiscountPercent: req.DiscountPercent,
		Quantity:        req.Quantity,
		SelectedSize:    req.SelectedSize,
		SelectedColor:   req.SelectedColor,
	})
	if err := observe("add_item", err); err != nil {
		return cart.Snapshot{}, err
	}
	return mgr.Snapshot(), nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, productRef, size string, quantity int) (cart.Snapshot, error) {
	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, observe("update_quantity", err)
	}
	if err := observe("update_quantity", mgr.UpdateQuantity(ctx, productRef, size, quantity)); err != nil {
		return cart.Snapshot{}, err
	}
	return mgr.Snapshot(), nil
}

func (s *CartService) RemoveItem(ctx context.Context, sessionID, productRef, size string) (cart.Snapshot, error) {
	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, observe("remove_item", err)
	}
	if err := observe("remove_item", mgr.RemoveFromCart(ctx, productRef, size)); err != nil {
		return cart.Snapshot{}, err
	}
	return mgr.Snapshot(), nil
}

func (s *CartService) ClearCart(ctx context.Context, sessionID string) (cart.Snapshot, error) {
	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, observe("clear_cart", err)
	}
	if err := observe("clear_cart", mgr.ClearCart(ctx)); err != nil {
		return cart.Snapshot{}, err
	}
	return mgr.Snapshot(), nil
}

// ApplyCoupon resolves code against the coupon catalogue and activates it on the cart.
func (s *CartService) ApplyCoupon(ctx context.Context, sessionID, code string) (cart.Snapshot, error) {
	coupon, err := s.coupons.Resolve(ctx, code)
	if err != nil {
		return cart.Snapshot{}, observe("apply_coupon", err)
	}

	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, observe("apply_coupon", err)
	}
	if err := observe("apply_coupon", mgr.ApplyCoupon(ctx, coupon.Code, coupon.DiscountAmount)); err != nil {
		return cart.Snapshot{}, err
	}
	log.Info().
		Str("session_id", sessionID).
		Str("coupon_code", coupon.Code).
		Str("discount_amount", coupon.DiscountAmount.String()).
		Msg("coupon applied")
	return mgr.Snapshot(), nil
}

func (s *CartService) RemoveCoupon(ctx context.Context, sessionID string) (cart.Snapshot, error) {
	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, observe("remove_coupon", err)
	}
	if err := observe("remove_coupon", mgr.RemoveCoupon(ctx)); err != nil {
		return cart.Snapshot{}, err
	}
	return mgr.Snapshot(), nil
}

// OrderItems returns the order-submission projection of the cart.
func (s *CartService) OrderItems(ctx context.Context, sessionID string) ([]model.OrderItem, error) {
	mgr, err := s.cartOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return mgr.PrepareOrderItems(), nil
}

// Checkout publishes the cart as a placed order and takes the ordered lines out
// of it. An applied coupon is redeemed in the same transaction as the publish,
// using the catalogue's current discount amount. Checkouts of one session run
// one at a time; lines added while a checkout is in flight stay in the cart.
func (s *CartService) Checkout(ctx context.Context, sessionID string) (*model.CheckoutResponse, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, observe("checkout", err)
	}
	sess.checkout.Lock()
	defer sess.checkout.Unlock()

	mgr := sess.cart
	snap, items := mgr.CheckoutView()
	if len(snap.Lines) == 0 {
		return nil, observe("checkout", ErrEmptyCart)
	}

	msg := model.OrderPlaced{
		OrderID:   uuid.NewString(),
		SessionID: sessionID,
		Items:     items,
		Subtotal:  snap.Total,
		Currency:  s.opts.Currency,
		PlacedAt:  s.now().UTC(),
	}
	publish := func(discount decimal.Decimal) error {
		msg.Discount = decimal.Min(discount, snap.Total)
		msg.Total = snap.Total.Sub(msg.Discount)
		if err := s.publisher.PublishPlaced(ctx, msg); err != nil {
			return fmt.Errorf("publish order: %w", err)
		}
		return nil
	}

	if snap.Coupon.Applied {
		msg.CouponCode = snap.Coupon.Code
		err = s.coupons.ClaimCoupon(ctx, sessionID, snap.Coupon.Code, func(c *model.Coupon) error {
			return publish(c.DiscountAmount)
		})
	} else {
		err = publish(decimal.Zero)
	}
	if err := observe("checkout", err); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("order_id", msg.OrderID).
		Str("total", cart.FormatAmount(msg.Total)).
		Msg("order placed")

	// The order is already out; failing to reset local state must not fail the checkout.
	if err := mgr.CompleteCheckout(context.WithoutCancel(ctx), snap); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("order_id", msg.OrderID).Msg("failed to remove ordered lines after checkout")
	}

	return &model.CheckoutResponse{
		OrderID:   msg.OrderID,
		ItemCount: snap.ItemCount(),
		Subtotal:  cart.FormatAmount(msg.Subtotal),
		Discount:  cart.FormatAmount(msg.Discount),
		Total:     cart.FormatAmount(msg.Total),
		Currency:  msg.Currency,
	}, nil
}

func (s *CartService) Wishlist(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.wishlist.Items(), nil
}

func (s *CartService) AddToWishlist(ctx context.Context, sessionID, ref string) ([]string, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, observe("wishlist_add", err)
	}
	if err := observe("wishlist_add", sess.wishlist.Add(ctx, ref)); err != nil {
		return nil, err
	}
	return sess.wishlist.Items(), nil
}

func (s *CartService) RemoveFromWishlist(ctx context.Context, sessionID, ref string) ([]string, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, observe("wishlist_remove", err)
	}
	if err := observe("wishlist_remove", sess.wishlist.Remove(ctx, ref)); err != nil {
		return nil, err
	}
	return sess.wishlist.Items(), nil
}

// ToggleWishlist reports whether ref is saved after the toggle.
func (s *CartService) ToggleWishlist(ctx context.Context, sessionID, ref string) (bool, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return false, observe("wishlist_toggle", err)
	}
	saved, err := sess.wishlist.Toggle(ctx, ref)
	return saved, observe("wishlist_toggle", err)
}

func (s *CartService) RecentlyViewed(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.recent.Items(), nil
}

func (s *CartService) RecordView(ctx context.Context, sessionID, ref string) ([]string, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, observe("record_view", err)
	}
	if err := observe("record_view", sess.recent.Record(ctx, ref)); err != nil {
		return nil, err
	}
	return sess.recent.Items(), nil
}

// IsInvalidArgument reports whether err stems from malformed shopper input.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, cart.ErrInvalidArgument) ||
		errors.Is(err, wishlist.ErrEmptyRef) ||
		errors.Is(err, recent.ErrEmptyRef)
}
