// Package store holds the key/value persistence used for per-session shopper state.
//
// Every write replaces the full value stored under a key. Two writers racing on the
// same key resolve as last-write-wins; no merge is attempted.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("key not found")

// Store is the persistent store contract consumed by the cart manager and the
// wishlist and recently-viewed lists.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
}

// Keys are the logical keys owned by one shopper session.
type Keys struct {
	Cart     string
	Coupon   string
	Wishlist string
	Recent   string
}

// KeysFor derives the keys of a session under prefix.
func KeysFor(prefix, sessionID string) Keys {
	base := prefix + ":" + sessionID + ":"
	return Keys{
		Cart:     base + "cart",
		Coupon:   base + "coupon",
		Wishlist: base + "wishlist",
		Recent:   base + "recent",
	}
}
