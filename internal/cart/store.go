// Package cart holds the per-user cart store: an ordered, persisted collection
// of line items keyed by product and variant identity.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/identity"
	"github.com/fjod/go_cart/storefront-cart/internal/storage"
	"github.com/rs/zerolog"
)

var ErrInvalidItem = errors.New("line item must have a positive product id")

// Store is one cart. Every mutation is serialised and the whole collection is
// written back to storage before the call returns. A failed write leaves the
// in-memory state applied; the next successful mutation persists it.
type Store struct {
	mu      sync.Mutex
	key     string
	storage storage.Storage
	log     zerolog.Logger
	now     func() time.Time

	items   []domain.LineItem
	dropped int
	unsaved bool // last write failed
}

type Option func(*Store)

// WithClock overrides the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the cart persisted under key. A missing or unreadable payload
// yields an empty cart; only storage failures are returned.
func Open(ctx context.Context, st storage.Storage, key string, log zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		key:     key,
		storage: st,
		log:     log.With().Str("cart", key).Logger(),
		now:     time.Now,
		items:   []domain.LineItem{},
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := st.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", key, err)
	}

	items, dropped, err := decodeItems(raw)
	if err != nil {
		s.dropped = 1
		s.log.Warn().Err(err).Msg("discarding unreadable cart payload")
		return s, nil
	}
	if dropped > 0 {
		s.log.Warn().Int("dropped", dropped).Msg("dropped malformed cart entries")
	}
	s.items = items
	s.dropped = dropped
	return s, nil
}

func (s *Store) Key() string {
	return s.key
}

// Dropped reports how many persisted entries were discarded while loading.
func (s *Store) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Unsaved reports whether the in-memory state differs from storage because the
// last write failed.
func (s *Store) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// Items returns a copy of the line items in insertion order.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LineItem, len(s.items))
	for i, item := range s.items {
		out[i] = cloneItem(item)
	}
	return out
}

// TotalItems is the sum of quantities across all items.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// Add merges item into the cart. An item with the same identity has its
// quantity increased (capped at MaxQuantity) and every other field replaced.
func (s *Store) Add(ctx context.Context, item domain.LineItem, quantity int) error {
	if item.ProductID <= 0 {
		return ErrInvalidItem
	}
	qty := clampQuantity(quantity)

	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := normalizeItem(cloneItem(item))
	if normalized.Stock.SnapshotAt.IsZero() {
		normalized.Stock.SnapshotAt = s.now().UTC()
	}

	if idx := s.indexOf(normalized.ProductID, normalized.VariantID); idx >= 0 {
		existing := s.items[idx]
		normalized.Quantity = min(existing.Quantity+qty, domain.MaxQuantity)
		normalized.Extra = mergeExtra(existing.Extra, normalized.Extra)
		s.items[idx] = normalized
	} else {
		normalized.Quantity = qty
		s.items = append(s.items, normalized)
	}
	return s.persist(ctx)
}

// UpdateQuantity sets the quantity of an existing item; unknown identities are
// ignored.
func (s *Store) UpdateQuantity(ctx context.Context, productID int64, quantity int, variantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID, variantID)
	if idx < 0 {
		return nil
	}
	s.items[idx].Quantity = clampQuantity(quantity)
	return s.persist(ctx)
}

// PatchItem applies the set fields of patch to an existing item and
// re-normalises identity and stock fields. Unknown identities are ignored.
func (s *Store) PatchItem(ctx context.Context, productID, variantID int64, patch domain.ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID, variantID)
	if idx < 0 {
		return nil
	}
	s.items[idx] = normalizeItem(applyPatch(s.items[idx], patch))
	return s.persist(ctx)
}

// RemoveItem drops the item with the given identity, if present.
func (s *Store) RemoveItem(ctx context.Context, productID, variantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID, variantID)
	if idx < 0 {
		return nil
	}
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	return s.persist(ctx)
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []domain.LineItem{}
	return s.persist(ctx)
}

func (s *Store) indexOf(productID, variantID int64) int {
	key := identity.Key(productID, variantID)
	for i, item := range s.items {
		if identity.Key(item.ProductID, item.VariantID) == key {
			return i
		}
	}
	return -1
}

func (s *Store) persist(ctx context.Context) error {
	payload, err := json.Marshal(s.items)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := s.storage.Set(ctx, s.key, payload); err != nil {
		s.unsaved = true
		s.log.Error().Err(err).Msg("persisting cart failed")
		return fmt.Errorf("persist cart %s: %w", s.key, err)
	}
	s.unsaved = false
	return nil
}

func clampQuantity(q int) int {
	return max(domain.MinQuantity, min(q, domain.MaxQuantity))
}
