package reconcile

import (
	"context"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/cart"
	"github.com/rs/zerolog"
)

// StoreSource lists the carts a scheduler refreshes.
type StoreSource interface {
	Stores() []*cart.Store
}

// Scheduler runs periodic reconciliation passes over every held cart.
type Scheduler struct {
	reconciler *Reconciler
	source     StoreSource
	interval   time.Duration
	log        zerolog.Logger
}

func NewScheduler(r *Reconciler, source StoreSource, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		reconciler: r,
		source:     source,
		interval:   interval,
		log:        log.With().Str("component", "reconcile-scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled. A non-positive interval disables it.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info().Msg("periodic reconciliation disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce reconciles every held cart sequentially and returns the number of
// carts visited.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	stores := s.source.Stores()
	visited := 0
	for _, store := range stores {
		if ctx.Err() != nil {
			break
		}
		if len(store.Items()) == 0 {
			continue
		}
		s.reconciler.Reconcile(ctx, store)
		visited++
	}
	s.log.Debug().Int("carts", visited).Msg("scheduled reconciliation finished")
	return visited
}
