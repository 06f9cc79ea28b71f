package cart

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type registryEntry struct {
	store    *Store
	lastUsed time.Time
}

// Registry hands out one Store per user, loading it from storage on first use.
// It assumes it is the only writer of the carts it holds: replicas sharing a
// backend must route each user to a single instance.
type Registry struct {
	storage storage.Storage
	log     zerolog.Logger
	opts    []Option
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*registryEntry
	sfg     singleflight.Group // concurrent first accesses load once
}

func NewRegistry(st storage.Storage, log zerolog.Logger, opts ...Option) *Registry {
	return &Registry{
		storage: st,
		log:     log.With().Str("component", "cart-registry").Logger(),
		opts:    opts,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
}

// Get returns the user's cart, loading it if it is not held yet. A caller that
// gives up only abandons its own wait; the shared load carries on for others.
func (r *Registry) Get(ctx context.Context, userID string) (*Store, error) {
	if s, ok := r.touch(userID); ok {
		return s, nil
	}

	ch := r.sfg.DoChan(userID, func() (interface{}, error) {
		if s, ok := r.touch(userID); ok {
			return s, nil
		}

		loaded, err := Open(context.WithoutCancel(ctx), r.storage, userID, r.log, r.opts...)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.entries[userID] = &registryEntry{store: loaded, lastUsed: r.now()}
		r.mu.Unlock()
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Store), nil
	}
}

func (r *Registry) touch(userID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.store, true
}

// Stores returns the carts currently held.
func (r *Registry) Stores() []*Store {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Store, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.store)
	}
	return out
}

// EvictIdle releases carts nobody asked for within idle. Carts holding changes
// that failed to persist are kept so the next mutation can still write them.
func (r *Registry) EvictIdle(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for userID, e := range r.entries {
		if e.lastUsed.After(cutoff) || e.store.Unsaved() {
			continue
		}
		delete(r.entries, userID)
		evicted++
	}
	return evicted
}

// RunEviction calls EvictIdle every idle/2 until ctx is done. A non-positive
// idle disables eviction.
func (r *Registry) RunEviction(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		r.log.Info().Msg("cart eviction disabled")
		return
	}

	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(idle); n > 0 {
				r.log.Debug().Int("evicted", n).Msg("released idle carts")
			}
		}
	}
}
