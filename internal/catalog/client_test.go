package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-cart/pkg/circuitbreaker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const teaDetail = `{
	"code": 0,
	"msg": "success",
	"data": {
		"id": 7,
		"slug": "green-tea",
		"fulfillment_type": "manual",
		"skus": [
			{"id": 11, "sku_code": "red-l", "spec_values": {"color": "red"}, "is_active": true,
			 "manual_stock_total": 10, "manual_stock_locked": 2, "manual_stock_sold": 3, "auto_stock_available": 0},
			{"id": 12, "sku_code": "blue-l", "spec_values": null, "is_active": false}
		]
	}
}`

func newServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/api/v1/public/", time.Second, zerolog.Nop())
}

func TestProductDetail_Success(t *testing.T) {
	var gotPath string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(teaDetail))
	})

	p, err := c.ProductDetail(context.Background(), " green-tea ")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/public/products/green-tea", gotPath)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "manual", p.FulfillmentType)
	require.Len(t, p.Variants, 2)
	assert.Equal(t, "red-l", p.Variants[0].Code)
	assert.Equal(t, int64(10), p.Variants[0].ManualStockTotal)
	assert.True(t, p.Variants[0].Active)

	attrs, ok := p.Variants[0].AttributeMap()
	require.True(t, ok)
	assert.Equal(t, "red", attrs["color"])

	require.Len(t, p.ActiveVariants(), 1)
}

func TestProductDetail_EscapesSlug(t *testing.T) {
	var gotPath string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(teaDetail))
	})

	_, err := c.ProductDetail(context.Background(), "tea/with space")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/public/products/tea%2Fwith%20space", gotPath)
}

func TestProductDetail_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"404", http.StatusNotFound, `{"code":404,"msg":"not found"}`, ErrNotFound},
		{"null data", http.StatusOK, `{"code":0,"msg":"ok","data":null}`, ErrNotFound},
		{"missing data", http.StatusOK, `{"code":0,"msg":"ok"}`, ErrNotFound},
		{"envelope error", http.StatusOK, `{"code":500,"msg":"boom"}`, ErrBadResponse},
		{"server error", http.StatusInternalServerError, `oops`, ErrBadResponse},
		{"not json", http.StatusOK, `<html>`, ErrBadResponse},
		{"bad product", http.StatusOK, `{"code":0,"data":{"skus":"nope"}}`, ErrBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.ProductDetail(context.Background(), "green-tea")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProductDetail_EmptySlug(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.ProductDetail(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), calls.Load())
}

func TestProductDetail_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.ProductDetail(context.Background(), "green-tea")
		assert.ErrorIs(t, err, ErrBadResponse)
	}

	_, err := c.ProductDetail(context.Background(), "green-tea")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(5), calls.Load())
}

func TestProductDetail_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 8; i++ {
		_, err := c.ProductDetail(context.Background(), "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(8), calls.Load())
}
