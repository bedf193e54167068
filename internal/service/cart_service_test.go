package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/storefront-cart/internal/cart"
	"github.com/fairyhunter13/storefront-cart/internal/model"
	"github.com/fairyhunter13/storefront-cart/internal/store"
)

// fakeCoupons is an in-memory CouponResolver.
type fakeCoupons struct {
	coupons  map[string]*model.Coupon
	claimErr error
	claims   []string
}

func (f *fakeCoupons) Resolve(ctx context.Context, code string) (*model.Coupon, error) {
	c, ok := f.coupons[NormalizeCode(code)]
	if !ok {
		return nil, ErrCouponNotFound
	}
	if c.RemainingAmount <= 0 {
		return nil, ErrNoStock
	}
	return c, nil
}

func (f *fakeCoupons) ClaimCoupon(ctx context.Context, sessionID, code string, onClaimed func(*model.Coupon) error) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	c, err := f.Resolve(ctx, code)
	if err != nil {
		return err
	}
	if err := onClaimed(c); err != nil {
		return err
	}
	f.claims = append(f.claims, sessionID+":"+c.Code)
	c.RemainingAmount--
	return nil
}

// fakePublisher records published orders. onPublish runs before the order is recorded.
type fakePublisher struct {
	mu        sync.Mutex
	published []model.OrderPlaced
	err       error
	onPublish func()
}

func (f *fakePublisher) PublishPlaced(ctx context.Context, msg model.OrderPlaced) error {
	if f.onPublish != nil {
		f.onPublish()
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

// flakyStore fails the next failGets reads, then behaves like store.Memory.
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failGets int
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("redis: connection pool timeout")
	}
	return f.Memory.Get(ctx, key)
}

func newTestCartService(st store.Store) (*CartService, *fakeCoupons, *fakePublisher) {
	coupons := &fakeCoupons{coupons: map[string]*model.Coupon{
		"SAVE10": {Code: "SAVE10", DiscountAmount: decimal.NewFromInt(10), Amount: 5, RemainingAmount: 5},
		"HUGE":   {Code: "HUGE", DiscountAmount: decimal.NewFromInt(500), Amount: 5, RemainingAmount: 5},
		"GONE":   {Code: "GONE", DiscountAmount: decimal.NewFromInt(1), Amount: 1, RemainingAmount: 0},
	}}
	pub := &fakePublisher{}
	svc := NewCartService(st, coupons, pub, CartOptions{
		KeyPrefix:   "test",
		MaxQuantity: 10,
		Currency:    "USD",
	})
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc, coupons, pub
}

// ctxStore fails reads made with a done context, like a network-backed store.
type ctxStore struct{ *store.Memory }

func (c ctxStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Memory.Get(ctx, key)
}

func mustCart(t *testing.T, svc *CartService, sessionID string) cart.Snapshot {
	t.Helper()
	snap, err := svc.Cart(context.Background(), sessionID)
	require.NoError(t, err)
	return snap
}

func addReq(ref, price string, qty int) *model.AddItemRequest {
	p := decimal.RequireFromString(price)
	return &model.AddItemRequest{ProductRef: ref, Name: "Item " + ref, UnitPrice: &p, Quantity: qty}
}

func TestCartService_AddItem_AccumulatesAndTotals(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 1))
	require.NoError(t, err)
	snap, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 2))
	require.NoError(t, err)

	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 3, snap.Lines[0].Quantity)
	assert.Equal(t, model.DefaultSize, snap.Lines[0].SelectedSize)
	assert.Equal(t, "30.00", cart.FormatAmount(snap.Total))
}

func TestCartService_AddItem_InvalidRequest(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())

	_, err := svc.AddItem(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.AddItem(context.Background(), "s1", &model.AddItemRequest{ProductRef: "p1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.AddItem(context.Background(), "s1", addReq("p1", "10", 11))
	assert.True(t, IsInvalidArgument(err), "quantity above max must be an invalid argument")
}

func TestCartService_SessionsAreIsolated(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 1))
	require.NoError(t, err)

	assert.Empty(t, mustCart(t, svc, "s2").Lines)
	assert.Len(t, mustCart(t, svc, "s1").Lines, 1)
}

func TestCartService_StatePersistsAcrossInstances(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	first, _, _ := newTestCartService(st)
	_, err := first.AddItem(ctx, "s1", addReq("p1", "12.50", 2))
	require.NoError(t, err)
	_, err = first.ApplyCoupon(ctx, "s1", "save10")
	require.NoError(t, err)
	_, err = first.AddToWishlist(ctx, "s1", "p9")
	require.NoError(t, err)
	_, err = first.RecordView(ctx, "s1", "p7")
	require.NoError(t, err)

	second, _, _ := newTestCartService(st)
	snap := mustCart(t, second, "s1")

	require.Len(t, snap.Lines, 1)
	assert.True(t, decimal.RequireFromString("25").Equal(snap.Total))
	assert.Equal(t, "SAVE10", snap.Coupon.Code)
	assert.True(t, snap.Coupon.Applied)
	wished, err := second.Wishlist(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p9"}, wished)
	viewed, err := second.RecentlyViewed(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p7"}, viewed)
}

func TestCartService_UpdateAndRemove(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 1))
	require.NoError(t, err)

	snap, err := svc.UpdateQuantity(ctx, "s1", "p1", "", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Lines[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, "s1", "p1", "", 0)
	assert.ErrorIs(t, err, cart.ErrInvalidArgument)

	_, err = svc.UpdateQuantity(ctx, "s1", "missing", "", 1)
	assert.ErrorIs(t, err, cart.ErrLineNotFound)

	snap, err = svc.RemoveItem(ctx, "s1", "p1", "M")
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.True(t, snap.Total.IsZero())
}

func TestCartService_ClearCart(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 1))
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	snap, err := svc.ClearCart(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.True(t, snap.Coupon.Applied, "clearing the cart leaves the coupon alone")
}

func TestCartService_ApplyCoupon(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{name: "known code", code: "save10"},
		{name: "unknown code", code: "NOPE", wantErr: ErrCouponNotFound},
		{name: "exhausted code", code: "GONE", wantErr: ErrNoStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestCartService(store.NewMemory())
			ctx := context.Background()

			snap, err := svc.ApplyCoupon(ctx, "s1", tt.code)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, mustCart(t, svc, "s1").Coupon.Applied)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SAVE10", snap.Coupon.Code)
			assert.True(t, decimal.NewFromInt(10).Equal(snap.Coupon.DiscountAmount))
		})
	}
}

func TestCartService_RemoveCoupon(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	snap, err := svc.RemoveCoupon(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.CouponState{}.Code, snap.Coupon.Code)
	assert.False(t, snap.Coupon.Applied)
	assert.True(t, snap.Coupon.DiscountAmount.IsZero())
}

func TestCartService_OrderItems(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	req := addReq("p1", "100", 2)
	req.DiscountPercent = 10
	req.SelectedColor = "red"
	_, err := svc.AddItem(ctx, "s1", req)
	require.NoError(t, err)

	items, err := svc.OrderItems(ctx, "s1")
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].Product)
	assert.True(t, decimal.NewFromInt(90).Equal(items[0].Price))
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "M", items[0].Size)
	assert.Equal(t, "red", items[0].Color)
}

func TestCartService_Checkout_WithoutCoupon(t *testing.T) {
	svc, coupons, pub := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 3))
	require.NoError(t, err)

	resp, err := svc.Checkout(ctx, "s1")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.OrderID)
	assert.Equal(t, 3, resp.ItemCount)
	assert.Equal(t, "30.00", resp.Subtotal)
	assert.Equal(t, "0.00", resp.Discount)
	assert.Equal(t, "30.00", resp.Total)
	assert.Equal(t, "USD", resp.Currency)

	require.Len(t, pub.published, 1)
	msg := pub.published[0]
	assert.Equal(t, resp.OrderID, msg.OrderID)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Empty(t, msg.CouponCode)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), msg.PlacedAt)
	assert.Empty(t, coupons.claims)

	assert.Empty(t, mustCart(t, svc, "s1").Lines, "cart is emptied after checkout")
}

func TestCartService_Checkout_WithCoupon(t *testing.T) {
	svc, coupons, pub := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "25", 2))
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	resp, err := svc.Checkout(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "50.00", resp.Subtotal)
	assert.Equal(t, "10.00", resp.Discount)
	assert.Equal(t, "40.00", resp.Total)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "SAVE10", pub.published[0].CouponCode)
	assert.Equal(t, []string{"s1:SAVE10"}, coupons.claims)
	assert.Equal(t, 4, coupons.coupons["SAVE10"].RemainingAmount)

	after := mustCart(t, svc, "s1")
	assert.Empty(t, after.Lines)
	assert.False(t, after.Coupon.Applied, "coupon is released after checkout")
}

func TestCartService_Checkout_DiscountCappedAtSubtotal(t *testing.T) {
	svc, _, pub := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "20", 1))
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "HUGE")
	require.NoError(t, err)

	resp, err := svc.Checkout(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "20.00", resp.Discount)
	assert.Equal(t, "0.00", resp.Total)
	assert.True(t, pub.published[0].Total.IsZero())
}

func TestCartService_Checkout_EmptyCart(t *testing.T) {
	svc, _, pub := newTestCartService(store.NewMemory())

	resp, err := svc.Checkout(context.Background(), "s1")

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, pub.published)
}

func TestCartService_Checkout_FailureKeepsCart(t *testing.T) {
	tests := []struct {
		name     string
		claimErr error
		pubErr   error
		coupon   bool
		wantErr  error
	}{
		{name: "publish fails", pubErr: errors.New("broker down"), wantErr: nil},
		{name: "already claimed", claimErr: ErrAlreadyClaimed, coupon: true, wantErr: ErrAlreadyClaimed},
		{name: "publish fails inside claim", pubErr: errors.New("broker down"), coupon: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, coupons, pub := newTestCartService(store.NewMemory())
			coupons.claimErr = tt.claimErr
			pub.err = tt.pubErr
			ctx := context.Background()

			_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 1))
			require.NoError(t, err)
			if tt.coupon {
				_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
				require.NoError(t, err)
			}

			resp, err := svc.Checkout(ctx, "s1")

			require.Error(t, err)
			assert.Nil(t, resp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.pubErr != nil {
				assert.ErrorIs(t, err, tt.pubErr)
			}
			snap := mustCart(t, svc, "s1")
			assert.Len(t, snap.Lines, 1, "cart survives a failed checkout")
			assert.Equal(t, tt.coupon, snap.Coupon.Applied)
			assert.Empty(t, coupons.claims)
		})
	}
}

func TestCartService_Checkout_KeepsLinesAddedWhilePublishing(t *testing.T) {
	svc, _, pub := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 1))
	require.NoError(t, err)
	pub.onPublish = func() {
		_, err := svc.AddItem(ctx, "s1", addReq("late", "4", 1))
		assert.NoError(t, err)
	}

	resp, err := svc.Checkout(ctx, "s1")
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	require.Len(t, pub.published[0].Items, 1)
	assert.Equal(t, "p1", pub.published[0].Items[0].Product)
	assert.Equal(t, 1, resp.ItemCount)

	after := mustCart(t, svc, "s1")
	require.Len(t, after.Lines, 1, "a line added during checkout is kept")
	assert.Equal(t, "late", after.Lines[0].ProductRef)

	reloaded, _, _ := newTestCartService(svc.store)
	assert.Len(t, mustCart(t, reloaded, "s1").Lines, 1)
}

func TestCartService_Checkout_ConcurrentPlacesOneOrder(t *testing.T) {
	svc, _, pub := newTestCartService(store.NewMemory())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "s1", addReq("p1", "10", 2))
	require.NoError(t, err)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Checkout(ctx, "s1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrEmptyCart)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, pub.published, 1)
	assert.Empty(t, mustCart(t, svc, "s1").Lines)
}

func TestCartService_LoadErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Memory: store.NewMemory()}

	first, _, _ := newTestCartService(st)
	for _, ref := range []string{"a", "b", "c"} {
		_, err := first.AddItem(ctx, "s1", addReq(ref, "1", 1))
		require.NoError(t, err)
	}

	svc, _, _ := newTestCartService(st)
	st.failGets = 1

	_, err := svc.AddItem(ctx, "s1", addReq("d", "1", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection pool timeout")

	snap, err := svc.AddItem(ctx, "s1", addReq("d", "1", 1))
	require.NoError(t, err)
	assert.Len(t, snap.Lines, 4)

	reloaded, _, _ := newTestCartService(st)
	assert.Len(t, mustCart(t, reloaded, "s1").Lines, 4, "persisted lines survive a failed read")
}

func TestCartService_LoadIgnoresRequestCancellation(t *testing.T) {
	st := ctxStore{store.NewMemory()}
	first, _, _ := newTestCartService(st)
	_, err := first.AddItem(context.Background(), "s1", addReq("a", "1", 1))
	require.NoError(t, err)

	svc, _, _ := newTestCartService(st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := svc.Cart(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, snap.Lines, 1)
}

func TestCartService_EvictIdle(t *testing.T) {
	st := store.NewMemory()
	svc, _, _ := newTestCartService(st)
	ctx := context.Background()
	clock := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	_, err := svc.AddItem(ctx, "idle", addReq("p1", "10", 2))
	require.NoError(t, err)
	clock = clock.Add(20 * time.Minute)
	_, err = svc.AddItem(ctx, "busy", addReq("p2", "5", 1))
	require.NoError(t, err)
	require.Equal(t, 2, svc.ActiveSessions())

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, svc.EvictIdle())
	assert.Equal(t, 1, svc.ActiveSessions())
	assert.Equal(t, 1.0, testutil.ToFloat64(activeSessions))

	snap := mustCart(t, svc, "idle")
	require.Len(t, snap.Lines, 1, "an evicted session reloads from the store")
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	assert.Equal(t, 2, svc.ActiveSessions())
}

func TestCartService_RunEvictorStopsWithContext(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := svc.Wishlist(context.Background(), "s1")
	require.NoError(t, err)
	svc.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunEvictor(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return svc.ActiveSessions() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evictor did not stop")
	}
}

func TestCartService_Wishlist(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	items, err := svc.AddToWishlist(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, items)

	saved, err := svc.ToggleWishlist(ctx, "s1", "p2")
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = svc.ToggleWishlist(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.False(t, saved)

	items, err = svc.RemoveFromWishlist(ctx, "s1", "p2")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = svc.AddToWishlist(ctx, "s1", "")
	assert.True(t, IsInvalidArgument(err))
}

func TestCartService_RecentlyViewed(t *testing.T) {
	svc, _, _ := newTestCartService(store.NewMemory())
	ctx := context.Background()

	for _, ref := range []string{"p1", "p2", "p1"} {
		_, err := svc.RecordView(ctx, "s1", ref)
		require.NoError(t, err)
	}

	viewed, err := svc.RecentlyViewed(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, viewed)

	_, err = svc.RecordView(ctx, "s1", " ")
	assert.True(t, IsInvalidArgument(err))
}

func TestIsInvalidArgument(t *testing.T) {
	assert.True(t, IsInvalidArgument(ErrInvalidRequest))
	assert.True(t, IsInvalidArgument(cart.ErrInvalidArgument))
	assert.False(t, IsInvalidArgument(ErrCouponNotFound))
	assert.False(t, IsInvalidArgument(nil))
}
