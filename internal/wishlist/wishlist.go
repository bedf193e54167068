// Package wishlist keeps the products a shopper saved for later.
package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/storefront-cart/internal/store"
)

// ErrEmptyRef is returned when a product ref is blank.
var ErrEmptyRef = errors.New("product ref is required")

// Wishlist is an insertion-ordered set of product refs.
type Wishlist struct {
	mu    sync.Mutex
	store store.Store
	key   string
	items []string
}

// Load hydrates the wishlist stored under key. Absent or malformed state starts
// empty; other read errors are returned.
func Load(ctx context.Context, st store.Store, key string) (*Wishlist, error) {
	w := &Wishlist{store: st, key: key, items: []string{}}

	raw, err := st.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load wishlist: %w", err)
	default:
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("discarding malformed wishlist")
		} else if items != nil {
			w.items = items
		}
	}
	return w, nil
}

// Add saves ref. Adding a saved ref does nothing.
func (w *Wishlist) Add(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ErrEmptyRef
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.Contains(w.items, ref) {
		return nil
	}
	w.items = append(w.items, ref)
	return w.save(ctx)
}

// Remove drops ref if present.
func (w *Wishlist) Remove(ctx context.Context, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := slices.Index(w.items, ref)
	if idx < 0 {
		return nil
	}
	w.items = slices.Delete(w.items, idx, idx+1)
	return w.save(ctx)
}

// Toggle adds ref when absent and removes it when present. It reports whether
// ref is saved afterwards.
func (w *Wishlist) Toggle(ctx context.Context, ref string) (bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false, ErrEmptyRef
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if idx := slices.Index(w.items, ref); idx >= 0 {
		w.items = slices.Delete(w.items, idx, idx+1)
		return false, w.save(ctx)
	}
	w.items = append(w.items, ref)
	return true, w.save(ctx)
}

func (w *Wishlist) Contains(ref string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Contains(w.items, ref)
}

// Items returns the saved refs in the order they were added.
func (w *Wishlist) Items() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.items)
}

func (w *Wishlist) Clear(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = []string{}
	return w.save(ctx)
}

func (w *Wishlist) save(ctx context.Context) error {
	raw, err := json.Marshal(w.items)
	if err != nil {
		return fmt.Errorf("encode wishlist: %w", err)
	}
	if err := w.store.Set(ctx, w.key, raw); err != nil {
		return fmt.Errorf("persist wishlist: %w", err)
	}
	return nil
}
