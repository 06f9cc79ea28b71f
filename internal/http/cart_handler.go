package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/cart"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/identity"
	"github.com/fjod/go_cart/storefront-cart/internal/money"
	"github.com/fjod/go_cart/storefront-cart/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CartProvider resolves a user's cart.
type CartProvider interface {
	Get(ctx context.Context, userID string) (*cart.Store, error)
}

// Refresher runs a reconciliation pass over one cart.
type Refresher interface {
	Reconcile(ctx context.Context, store reconcile.CartStore) reconcile.Result
}

// DefaultLocale is used for titles when neither the request nor the handler
// names a locale.
const DefaultLocale = "zh-CN"

type CartHandler struct {
	carts         CartProvider
	refresher     Refresher
	feeRateBasis  int64
	timeout       time.Duration
	defaultLocale string
	log           zerolog.Logger
}

type HandlerOption func(*CartHandler)

// WithDefaultLocale sets the locale titles fall back to.
func WithDefaultLocale(locale string) HandlerOption {
	return func(h *CartHandler) {
		if locale != "" {
			h.defaultLocale = locale
		}
	}
}

func NewCartHandler(carts CartProvider, refresher Refresher, feeRateBasisPoints int64, timeout time.Duration, log zerolog.Logger, opts ...HandlerOption) *CartHandler {
	h := &CartHandler{
		carts:         carts,
		refresher:     refresher,
		feeRateBasis:  feeRateBasisPoints,
		timeout:       timeout,
		defaultLocale: DefaultLocale,
		log:           log.With().Str("component", "cart-handler").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type AddItemRequestDTO struct {
	ProductID         int64             `json:"product_id"`
	VariantID         int64             `json:"variant_id"`
	VariantCode       string            `json:"variant_code"`
	VariantAttributes map[string]any    `json:"variant_attributes"`
	Slug              string            `json:"slug"`
	Title             map[string]string `json:"title"`
	Price             string            `json:"price"`
	Image             string            `json:"image"`
	Quantity          int               `json:"quantity"`
	PurchaseType      string            `json:"purchase_type"`
	FulfillmentType   string            `json:"fulfillment_type"`
	ManualFormSchema  json.RawMessage   `json:"manual_form_schema"`

	// Stock as shown on the product page; refreshed by later passes.
	ManualStockTotal   *int64 `json:"manual_stock_total"`
	ManualStockLocked  *int64 `json:"manual_stock_locked"`
	ManualStockSold    *int64 `json:"manual_stock_sold"`
	AutoStockAvailable *int64 `json:"auto_stock_available"`
	StockEnforced      *bool  `json:"stock_enforced"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type QuoteView struct {
	Subtotal string   `json:"subtotal"`
	FeeRate  string   `json:"fee_rate"`
	Fee      string   `json:"fee"`
	Total    string   `json:"total"`
	Unpriced []string `json:"unpriced,omitempty"`
}

// StockView is the cached stock of an item. Limit is only set when Limited.
type StockView struct {
	ManualTotal   *int64     `json:"manual_total,omitempty"`
	ManualLocked  *int64     `json:"manual_locked,omitempty"`
	ManualSold    *int64     `json:"manual_sold,omitempty"`
	AutoAvailable *int64     `json:"auto_available,omitempty"`
	Enforced      bool       `json:"enforced"`
	Limited       bool       `json:"limited"`
	Limit         *int64     `json:"limit,omitempty"`
	SnapshotAt    *time.Time `json:"snapshot_at,omitempty"`
}

type LineItemView struct {
	Key               string          `json:"key"`
	ProductID         int64           `json:"product_id"`
	VariantID         int64           `json:"variant_id"`
	VariantCode       string          `json:"variant_code,omitempty"`
	VariantAttributes map[string]any  `json:"variant_attributes,omitempty"`
	Slug              string          `json:"slug"`
	Title             string          `json:"title"`
	Price             string          `json:"price"`
	Image             string          `json:"image,omitempty"`
	Quantity          int             `json:"quantity"`
	PurchaseType      string          `json:"purchase_type,omitempty"`
	FulfillmentType   string          `json:"fulfillment_type,omitempty"`
	ManualFormSchema  json.RawMessage `json:"manual_form_schema,omitempty"`
	Stock             StockView       `json:"stock"`
}

type CartView struct {
	UserID     string            `json:"user_id"`
	Locale     string            `json:"locale"`
	Items      []LineItemView    `json:"items"`
	TotalItems int               `json:"total_items"`
	Quote      *QuoteView        `json:"quote,omitempty"`
	Refresh    *reconcile.Result `json:"refresh,omitempty"`
	// DroppedEntries counts persisted entries discarded as unreadable on load.
	DroppedEntries int `json:"dropped_entries,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.loadCart(ctx, w, r)
	if !ok {
		return
	}

	var refresh *reconcile.Result
	if refreshRequested(r) && h.refresher != nil {
		res := h.refresher.Reconcile(ctx, store)
		refresh = &res
	}

	view := h.view(r, store)
	view.Refresh = refresh
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = domain.MinQuantity
	}
	if req.Quantity < domain.MinQuantity || req.Quantity > domain.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}
	if _, err := money.AmountToCents(req.Price); err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "invalid_price", "price must be a decimal amount", err.Error())
		return
	}

	store, ok := h.loadCart(ctx, w, r)
	if !ok {
		return
	}

	if err := store.Add(ctx, req.toLineItem(), req.Quantity); err != nil {
		h.handleStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.view(r, store))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < domain.MinQuantity || req.Quantity > domain.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	store, ok := h.loadCart(ctx, w, r)
	if !ok {
		return
	}

	if err := store.UpdateQuantity(ctx, productID, req.Quantity, variantIDParam(r)); err != nil {
		h.handleStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.view(r, store))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	store, ok := h.loadCart(ctx, w, r)
	if !ok {
		return
	}

	if err := store.RemoveItem(ctx, productID, variantIDParam(r)); err != nil {
		h.handleStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.view(r, store))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.loadCart(ctx, w, r)
	if !ok {
		return
	}

	if err := store.Clear(ctx); err != nil {
		h.handleStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.view(r, store))
}

// Refresh runs a reconciliation pass and reports its outcome.
func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.refresher == nil {
		respondError(w, http.StatusServiceUnavailable, "refresh_unavailable", "stock refresh is not configured")
		return
	}

	store, ok := h.loadCart(ctx, w, r)
	if !ok {
		return
	}

	res := h.refresher.Reconcile(ctx, store)
	view := h.view(r, store)
	view.Refresh = &res
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) loadCart(ctx context.Context, w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return nil, false
	}

	store, err := h.carts.Get(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load cart")
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "cart storage unavailable")
		return nil, false
	}
	return store, true
}

func (h *CartHandler) handleStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, cart.ErrInvalidItem) {
		respondError(w, http.StatusBadRequest, "invalid_item", err.Error())
		return
	}
	// The change is applied in memory and will be written by the next mutation.
	respondErrorDetails(w, http.StatusServiceUnavailable, "persist_failed", "cart change could not be saved", err.Error())
}

func (h *CartHandler) view(r *http.Request, store *cart.Store) CartView {
	locale := h.localeFor(r)
	items := store.Items()

	view := CartView{
		UserID:         store.Key(),
		Locale:         locale,
		Items:          make([]LineItemView, 0, len(items)),
		TotalItems:     store.TotalItems(),
		DroppedEntries: store.Dropped(),
	}
	for _, item := range items {
		view.Items = append(view.Items, h.itemView(item, locale))
	}

	q, err := store.Quote(h.feeRateBasis)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", store.Key()).Msg("cart cannot be priced")
		return view
	}
	view.Quote = &QuoteView{
		Subtotal: q.Subtotal(),
		FeeRate:  q.FeeRate(),
		Fee:      q.Fee(),
		Total:    q.Total(),
		Unpriced: q.Unpriced,
	}
	return view
}

func (h *CartHandler) itemView(item domain.LineItem, locale string) LineItemView {
	stock := StockView{
		ManualTotal:   item.Stock.ManualTotal,
		ManualLocked:  item.Stock.ManualLocked,
		ManualSold:    item.Stock.ManualSold,
		AutoAvailable: item.Stock.AutoAvailable,
		Enforced:      item.Stock.Enforced != nil && *item.Stock.Enforced,
	}
	if limit, limited := item.StockLimit(); limited {
		stock.Limited = true
		stock.Limit = domain.Int64(limit)
	}
	if !item.Stock.SnapshotAt.IsZero() {
		at := item.Stock.SnapshotAt
		stock.SnapshotAt = &at
	}

	return LineItemView{
		Key:               identity.Key(item.ProductID, item.VariantID),
		ProductID:         item.ProductID,
		VariantID:         item.VariantID,
		VariantCode:       item.VariantCode,
		VariantAttributes: item.VariantAttributes,
		Slug:              item.Slug,
		Title:             item.LocalizedTitle(locale, h.defaultLocale),
		Price:             item.PriceAmount,
		Image:             item.Image,
		Quantity:          item.Quantity,
		PurchaseType:      item.PurchaseType,
		FulfillmentType:   item.FulfillmentType,
		ManualFormSchema:  item.ManualFormSchema,
		Stock:             stock,
	}
}

// localeFor takes ?locale=, then the first Accept-Language tag, then the
// handler default.
func (h *CartHandler) localeFor(r *http.Request) string {
	if l := strings.TrimSpace(r.URL.Query().Get("locale")); l != "" {
		return l
	}
	accept := r.Header.Get("Accept-Language")
	first, _, _ := strings.Cut(accept, ",")
	tag, _, _ := strings.Cut(first, ";")
	if tag = strings.TrimSpace(tag); tag != "" && tag != "*" {
		return tag
	}
	return h.defaultLocale
}

func (req AddItemRequestDTO) toLineItem() domain.LineItem {
	return domain.LineItem{
		ProductID:         req.ProductID,
		VariantID:         req.VariantID,
		VariantCode:       req.VariantCode,
		VariantAttributes: req.VariantAttributes,
		Slug:              req.Slug,
		Title:             req.Title,
		PriceAmount:       req.Price,
		Image:             req.Image,
		PurchaseType:      req.PurchaseType,
		FulfillmentType:   req.FulfillmentType,
		ManualFormSchema:  req.ManualFormSchema,
		Stock: domain.StockSnapshot{
			ManualTotal:   req.ManualStockTotal,
			ManualLocked:  req.ManualStockLocked,
			ManualSold:    req.ManualStockSold,
			AutoAvailable: req.AutoStockAvailable,
			Enforced:      req.StockEnforced,
		},
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := money.ParseInteger(chi.URLParam(r, "product_id"))
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

// variantIDParam reads ?variant_id=; anything unusable means "no variant".
func variantIDParam(r *http.Request) int64 {
	return identity.NormalizeVariantID(r.URL.Query().Get("variant_id"))
}

func refreshRequested(r *http.Request) bool {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return refresh
}
