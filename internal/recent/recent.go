// Package recent tracks the products a shopper viewed most recently.
package recent

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

// DefaultLimit is the number of products kept when no limit is given.
const DefaultLimit = 10

// ErrEmptyRef is returned when a product ref is blank.
var ErrEmptyRef = errors.New("product ref is required")

// List holds product refs most-recent-first, without duplicates, capped at limit.
type List struct {
	mu    sync.Mutex
	store store.Store
	key   string
	limit int
	items []string
}

// Load hydrates the list stored under key. Entries beyond limit are dropped.
// Absent or malformed state starts empty; other read errors are returned.
func Load(ctx context.Context, st store.Store, key string, limit int) (*List, error) {
	if limit < 1 {
		limit = DefaultLimit
	}
	l := &List{store: st, key: key, limit: limit, items: []string{}}

	raw, err := st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recently viewed: %w", err)
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding malformed recently viewed")
		return l, nil
	}
	if len(items) > limit {
		items = items[:limit]
	}
	if items != nil {
		l.items = items
	}
	return l, nil
}

// Record moves ref to the front of the list.
func (l *List) Record(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ErrEmptyRef
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if idx := slices.Index(l.items, ref); idx >= 0 {
		l.items = slices.Delete(l.items, idx, idx+1)
	}
	l.items = slices.Insert(l.items, 0, ref)
	if len(l.items) > l.limit {
		l.items = l.items[:l.limit]
	}
	return l.save(ctx)
}

func (l *List) Items() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

func (l *List) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = []string{}
	return l.save(ctx)
}

func (l *List) save(ctx context.Context) error {
	raw, err := json.Marshal(l.items)
	if err != nil {
		return fmt.Errorf("encode recently viewed: %w", err)
	}
	if err := l.store.Set(ctx, l.key, raw); err != nil {
		return fmt.Errorf("persist recently viewed: %w", err)
	}
	return nil
}
