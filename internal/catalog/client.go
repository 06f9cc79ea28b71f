// Package catalog reads product details from the remote storefront catalog.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/pkg/circuitbreaker"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrNotFound    = errors.New("product not found")
	ErrBadResponse = errors.New("unexpected catalog response")
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// envelope is the catalog's response wrapper; code 0 means success.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker[*domain.Product]
	log     zerolog.Logger
}

// NewHTTPClient builds a client for baseURL (for example
// "http://catalog/api/v1/public"). Requests are traced and guarded by a
// circuit breaker; a not-found never trips it.
func NewHTTPClient(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	cbCfg := circuitbreaker.DefaultConfig("catalog")
	cbCfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrNotFound)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[*domain.Product](cbCfg, log),
		log:     log.With().Str("component", "catalog").Logger(),
	}
}

// ProductDetail fetches GET {base}/products/{slug}.
func (c *HTTPClient) ProductDetail(ctx context.Context, slug string) (*domain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("empty slug: %w", ErrNotFound)
	}

	product, err := c.breaker.Execute(func() (*domain.Product, error) {
		return c.fetch(ctx, slug)
	})
	if err != nil {
		return nil, fmt.Errorf("product detail %q: %w", slug, err)
	}
	return product, nil
}

func (c *HTTPClient) fetch(ctx context.Context, slug string) (*domain.Product, error) {
	endpoint := c.baseURL + "/products/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("%w: code %d: %s", ErrBadResponse, env.Code, env.Msg)
	}
	if d := bytes.TrimSpace(env.Data); len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return nil, ErrNotFound
	}

	var product domain.Product
	if err := json.Unmarshal(env.Data, &product); err != nil {
		return nil, fmt.Errorf("%w: decode product: %v", ErrBadResponse, err)
	}
	if product.Slug == "" {
		product.Slug = slug
	}

	c.log.Debug().Str("slug", slug).Int("variants", len(product.Variants)).Msg("fetched product detail")
	return &product, nil
}
