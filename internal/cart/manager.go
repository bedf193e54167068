// Package cart implements the per-session cart state manager: cart lines, the single
// active coupon, derived totals and the order-submission projection.
//
// State is hydrated from a store.Store once, when the manager is loaded, and written
// back in full after every mutation. Totals keep full decimal precision; callers
// round at the presentation boundary with FormatAmount.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/storefront-cart/internal/model"
	"github.com/fairyhunter13/storefront-cart/internal/store"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMaxQuantity bounds the quantity of a single line. Zero means unbounded.
func WithMaxQuantity(n int) Option {
	return func(m *Manager) { m.maxQuantity = n }
}

// WithDefaultSize overrides the size used when a line is added without one.
func WithDefaultSize(size string) Option {
	return func(m *Manager) {
		if size != "" {
			m.defaultSize = size
		}
	}
}

// Manager owns the cart lines and coupon of one session. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	store  store.Store
	keys   store.Keys
	lines  []model.CartLine
	coupon model.CouponState
	total  decimal.Decimal

	maxQuantity int
	defaultSize string
}

// Snapshot is a consistent read of the manager state.
type Snapshot struct {
	Lines  []model.CartLine
	Coupon model.CouponState
	Total  decimal.Decimal
}

// Discount is the coupon reduction applied to Total, never more than Total.
func (s Snapshot) Discount() decimal.Decimal {
	if !s.Coupon.Applied {
		return decimal.Zero
	}
	return decimal.Min(s.Coupon.DiscountAmount, s.Total)
}

// GrandTotal is Total minus Discount.
func (s Snapshot) GrandTotal() decimal.Decimal {
	return s.Total.Sub(s.Discount())
}

// ItemCount sums the quantities of all lines.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// FormatAmount renders money rounded half away from zero to 2 decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Load creates a Manager and hydrates it from st. Absent or unparsable state is
// replaced by an empty cart and an inactive coupon and only logged. Any other read
// error is returned, since starting empty would overwrite the persisted cart on
// the next save.
func Load(ctx context.Context, st store.Store, keys store.Keys, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:       st,
		keys:        keys,
		lines:       []model.CartLine{},
		total:       decimal.Zero,
		defaultSize: model.DefaultSize,
	}
	for _, opt := range opts {
		opt(m)
	}

	var lines []model.CartLine
	ok, err := m.hydrate(ctx, keys.Cart, &lines)
	if err != nil {
		return nil, err
	}
	if ok && lines != nil {
		m.lines = lines
	}

	var coupon model.CouponState
	ok, err = m.hydrate(ctx, keys.Coupon, &coupon)
	if err != nil {
		return nil, err
	}
	if ok && coupon.Applied {
		m.coupon = coupon
	}

	m.recompute()
	return m, nil
}

// hydrate decodes key into dst and reports whether it did.
func (m *Manager) hydrate(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding malformed persisted cart state")
		return false, nil
	}
	return true, nil
}

// AddToCart adds item, or increments the quantity of the line with the same
// product and size. A zero quantity counts as 1.
func (m *Manager) AddToCart(ctx context.Context, item model.CartLine) error {
	item.ProductRef = strings.TrimSpace(item.ProductRef)
	if item.ProductRef == "" {
		return fmt.Errorf("%w: product_ref is required", ErrInvalidArgument)
	}
	if item.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit_price must not be negative", ErrInvalidArgument)
	}
	if item.DiscountPercent < 0 || item.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount_percent must be between 0 and 100", ErrInvalidArgument)
	}
	if item.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.SelectedSize == "" {
		item.SelectedSize = m.defaultSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(item.ProductRef, item.SelectedSize)
	if idx >= 0 {
		next := m.lines[idx].Quantity + item.Quantity
		if err := m.checkMax(next); err != nil {
			return err
		}
		m.lines[idx].Quantity = next
	} else {
		if err := m.checkMax(item.Quantity); err != nil {
			return err
		}
		m.lines = append(m.lines, item)
	}

	return m.saveLines(ctx)
}

// RemoveFromCart removes every line matching productRef and size. Removing a line
// that does not exist is a no-op.
func (m *Manager) RemoveFromCart(ctx context.Context, productRef, size string) error {
	if size == "" {
		size = m.defaultSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.lines[:0:0]
	for _, l := range m.lines {
		if l.ProductRef == productRef && l.SelectedSize == size {
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == len(m.lines) {
		return nil
	}
	m.lines = kept

	return m.saveLines(ctx)
}

// UpdateQuantity sets the quantity of the line matching productRef and size.
func (m *Manager) UpdateQuantity(ctx context.Context, productRef, size string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	if size == "" {
		size = m.defaultSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(productRef, size) < 0 {
		return ErrLineNotFound
	}
	if err := m.checkMax(quantity); err != nil {
		return err
	}

	for i := range m.lines {
		if m.lines[i].ProductRef == productRef && m.lines[i].SelectedSize == size {
			m.lines[i].Quantity = quantity
		}
	}

	return m.saveLines(ctx)
}

// ClearCart empties the line list. The coupon is left untouched.
func (m *Manager) ClearCart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lines = []model.CartLine{}
	return m.saveLines(ctx)
}

// ApplyCoupon activates code with a flat discountAmount, replacing any active coupon.
// The amount must already be resolved against the code by the caller.
func (m *Manager) ApplyCoupon(ctx context.Context, code string, discountAmount decimal.Decimal) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return fmt.Errorf("%w: coupon code is required", ErrInvalidArgument)
	}
	if discountAmount.IsNegative() {
		return fmt.Errorf("%w: discount amount must not be negative", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.coupon = model.CouponState{Code: code, DiscountAmount: discountAmount, Applied: true}
	return m.saveCoupon(ctx)
}

// RemoveCoupon resets the coupon to the inactive state.
func (m *Manager) RemoveCoupon(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.coupon = model.CouponState{}
	return m.saveCoupon(ctx)
}

// Lines returns a copy of the cart lines in insertion order.
func (m *Manager) Lines() []model.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CartLine{}, m.lines...)
}

// Coupon returns the current coupon state.
func (m *Manager) Coupon() model.CouponState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupon
}

// Total is the sum of quantity * effective price over all lines, unrounded.
func (m *Manager) Total() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Snapshot returns lines, coupon and total read under one lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Lines:  append([]model.CartLine{}, m.lines...),
		Coupon: m.coupon,
		Total:  m.total,
	}
}

// CheckoutView returns the snapshot and its order projection read under one lock.
func (m *Manager) CheckoutView() (Snapshot, []model.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Lines:  append([]model.CartLine{}, m.lines...),
		Coupon: m.coupon,
		Total:  m.total,
	}, m.orderItems()
}

// CompleteCheckout takes an ordered snapshot out of the cart. The ordered quantity
// is subtracted from each matching line, so lines added or raised after the
// snapshot was read stay in the cart. The coupon is reset only if it is still the
// one that was redeemed.
func (m *Manager) CompleteCheckout(ctx context.Context, ordered Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.lines[:0:0]
	for _, l := range m.lines {
		for _, o := range ordered.Lines {
			if o.ProductRef == l.ProductRef && o.SelectedSize == l.SelectedSize {
				l.Quantity -= o.Quantity
				break
			}
		}
		if l.Quantity > 0 {
			remaining = append(remaining, l)
		}
	}
	m.lines = remaining
	if err := m.saveLines(ctx); err != nil {
		return err
	}

	if ordered.Coupon.Applied && m.coupon.Applied && m.coupon.Code == ordered.Coupon.Code {
		m.coupon = model.CouponState{}
		return m.saveCoupon(ctx)
	}
	return nil
}

// PrepareOrderItems projects each line into the order-submission shape.
func (m *Manager) PrepareOrderItems() []model.OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderItems()
}

func (m *Manager) orderItems() []model.OrderItem {
	items := make([]model.OrderItem, 0, len(m.lines))
	for _, l := range m.lines {
		size := l.SelectedSize
		if size == "" {
			size = model.DefaultSize
		}
		items = append(items, model.OrderItem{
			Product:  l.ProductRef,
			Name:     l.Name,
			Image:    l.ImageURL,
			Price:    l.EffectivePrice(),
			Quantity: l.Quantity,
			Size:     size,
			Color:    l.SelectedColor,
		})
	}
	return items
}

func (m *Manager) indexOf(productRef, size string) int {
	for i, l := range m.lines {
		if l.ProductRef == productRef && l.SelectedSize == size {
			return i
		}
	}
	return -1
}

func (m *Manager) checkMax(quantity int) error {
	if m.maxQuantity > 0 && quantity > m.maxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds maximum of %d", ErrInvalidArgument, quantity, m.maxQuantity)
	}
	return nil
}

func (m *Manager) recompute() {
	total := decimal.Zero
	for _, l := range m.lines {
		total = total.Add(l.Subtotal())
	}
	m.total = total
}

// saveLines recomputes the total and writes the line list. Must hold mu.
func (m *Manager) saveLines(ctx context.Context) error {
	m.recompute()
	raw, err := json.Marshal(m.lines)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := m.store.Set(ctx, m.keys.Cart, raw); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}

// saveCoupon writes the coupon state. Must hold mu.
func (m *Manager) saveCoupon(ctx context.Context) error {
	raw, err := json.Marshal(m.coupon)
	if err != nil {
		return fmt.Errorf("encode coupon: %w", err)
	}
	if err := m.store.Set(ctx, m.keys.Coupon, raw); err != nil {
		return fmt.Errorf("persist coupon: %w", err)
	}
	return nil
}
