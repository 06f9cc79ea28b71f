// Package reconcile refreshes the cached stock snapshots of cart items from
// the remote catalog.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/identity"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/fjod/go_cart/storefront-cart/internal/reconcile"

// ProductFetcher is the catalog boundary used by a pass.
type ProductFetcher interface {
	ProductDetail(ctx context.Context, slug string) (*domain.Product, error)
}

// CartStore is the part of a cart a pass reads from and writes through.
type CartStore interface {
	Key() string
	Items() []domain.LineItem
	PatchItem(ctx context.Context, productID, variantID int64, patch domain.ItemPatch) error
}

// Result summarises one pass.
type Result struct {
	PassID      string   `json:"pass_id"`
	Slugs       []string `json:"slugs"`
	Fetched     int      `json:"fetched"`
	Failed      int      `json:"failed"`
	Patched     int      `json:"patched"`
	Skipped     int      `json:"skipped"`
	PatchFailed int      `json:"patch_failed"`
}

type Reconciler struct {
	fetcher     ProductFetcher
	policy      EnforcementPolicy
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
	tracer      trace.Tracer

	sfg singleflight.Group // one in-flight pass per cart
}

type Option func(*Reconciler)

func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(fetcher ProductFetcher, policy EnforcementPolicy, log zerolog.Logger, opts ...Option) *Reconciler {
	if policy == nil {
		policy = SentinelPolicy{}
	}
	r := &Reconciler{
		fetcher:     fetcher,
		policy:      policy,
		concurrency: 4,
		log:         log.With().Str("component", "reconcile").Str("policy", policy.Name()).Logger(),
		now:         time.Now,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass over the store's current items. Fetch and patch
// failures are logged and counted, never returned. Concurrent calls for the
// same cart share a single pass.
func (r *Reconciler) Reconcile(ctx context.Context, store CartStore) Result {
	v, _, _ := r.sfg.Do(store.Key(), func() (interface{}, error) {
		return r.run(context.WithoutCancel(ctx), store), nil
	})
	return v.(Result)
}

func (r *Reconciler) run(ctx context.Context, store CartStore) Result {
	res := Result{PassID: uuid.NewString()}
	log := r.log.With().Str("cart", store.Key()).Str("pass_id", res.PassID).Logger()

	ctx, span := r.tracer.Start(ctx, "reconcile.pass", trace.WithAttributes(
		attribute.String("cart.key", store.Key()),
		attribute.String("reconcile.policy", r.policy.Name()),
	))
	defer span.End()

	items := store.Items()
	res.Slugs = distinctSlugs(items)
	if len(res.Slugs) == 0 {
		return res
	}

	products := r.fetchAll(ctx, res.Slugs, log)
	res.Fetched = len(products)
	res.Failed = len(res.Slugs) - len(products)

	now := r.now().UTC()
	for _, item := range items {
		product, ok := products[strings.TrimSpace(item.Slug)]
		if !ok {
			res.Skipped++
			continue
		}

		patch, ok := r.buildPatch(item, product, now)
		if !ok {
			res.Skipped++
			continue
		}

		// Keyed by the item's own identity; an item removed meanwhile is a no-op.
		if err := store.PatchItem(ctx, item.ProductID, item.VariantID, patch); err != nil {
			res.PatchFailed++
			log.Warn().Err(err).
				Str("item", identity.Key(item.ProductID, item.VariantID)).
				Msg("failed to persist refreshed stock snapshot")
			continue
		}
		res.Patched++
	}

	span.SetAttributes(
		attribute.Int("reconcile.slugs", len(res.Slugs)),
		attribute.Int("reconcile.failed", res.Failed),
		attribute.Int("reconcile.patched", res.Patched),
		attribute.Int("reconcile.skipped", res.Skipped),
	)
	if res.Failed > 0 || res.PatchFailed > 0 {
		span.SetStatus(codes.Error, "partial reconciliation")
	}

	log.Info().
		Int("slugs", len(res.Slugs)).
		Int("failed", res.Failed).
		Int("patched", res.Patched).
		Int("skipped", res.Skipped).
		Msg("reconciliation pass finished")
	return res
}

// fetchAll loads every slug concurrently and waits for all of them. Failed
// slugs are absent from the returned map.
func (r *Reconciler) fetchAll(ctx context.Context, slugs []string, log zerolog.Logger) map[string]*domain.Product {
	var (
		mu       sync.Mutex
		products = make(map[string]*domain.Product, len(slugs))
		g        errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, slug := range slugs {
		g.Go(func() error {
			product, err := r.fetcher.ProductDetail(ctx, slug)
			if err != nil {
				log.Warn().Err(err).Str("slug", slug).Msg("product refresh failed")
				return nil
			}
			if product == nil {
				log.Warn().Str("slug", slug).Msg("product refresh returned no product")
				return nil
			}
			mu.Lock()
			products[slug] = product
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return products
}

func (r *Reconciler) buildPatch(item domain.LineItem, product *domain.Product, now time.Time) (domain.ItemPatch, bool) {
	active := product.ActiveVariants()
	if len(active) == 0 {
		return domain.ItemPatch{}, false
	}
	variant, ok := matchVariant(item, active)
	if !ok {
		return domain.ItemPatch{}, false
	}

	code := strings.TrimSpace(variant.Code)
	if code == "" {
		code = item.VariantCode
	}

	patch := domain.ItemPatch{
		VariantCode:   domain.String(code),
		ManualTotal:   domain.Int64(r.policy.ManualTotal(variant.ManualStockTotal)),
		ManualLocked:  domain.Int64(counter(variant.ManualStockLocked)),
		ManualSold:    domain.Int64(counter(variant.ManualStockSold)),
		AutoAvailable: domain.Int64(counter(variant.AutoStockAvailable)),
		Enforced:      domain.Bool(enforced(r.policy, product.FulfillmentType, variant, len(active))),
		SnapshotAt:    &now,
	}
	if attrs, ok := variant.AttributeMap(); ok {
		patch.VariantAttributes = attrs
	}
	return patch, true
}

// matchVariant tries the variant id, then the case-insensitive code, then the
// sole active variant.
func matchVariant(item domain.LineItem, active []domain.Variant) (domain.Variant, bool) {
	if id := identity.NormalizeVariantID(item.VariantID); id > 0 {
		for _, v := range active {
			if identity.NormalizeVariantID(v.ID) == id {
				return v, true
			}
		}
	}

	if code := normalizeCode(item.VariantCode); code != "" {
		for _, v := range active {
			if normalizeCode(v.Code) == code {
				return v, true
			}
		}
	}

	if len(active) == 1 {
		return active[0], true
	}
	return domain.Variant{}, false
}

func distinctSlugs(items []domain.LineItem) []string {
	seen := make(map[string]struct{}, len(items))
	var slugs []string
	for _, item := range items {
		slug := strings.TrimSpace(item.Slug)
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		slugs = append(slugs, slug)
	}
	return slugs
}
