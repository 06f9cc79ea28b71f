// Package poller consumes checkout events and empties the carts of users who
// completed a checkout.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/cart"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "storefront-cart-consumer"
)

var ErrMissingUserID = errors.New("missing or invalid user_id")

// MessageReader is the subset of *kafka.Reader the poller needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CartProvider resolves a user's cart.
type CartProvider interface {
	Get(ctx context.Context, userID string) (*cart.Store, error)
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	carts  CartProvider
	reader MessageReader
	log    zerolog.Logger
	// pause after a read error so a broken broker does not spin the loop
	backoff time.Duration
}

func NewPoller(carts CartProvider, log zerolog.Logger, topic, groupID string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, log)
}

func newPoller(carts CartProvider, reader MessageReader, log zerolog.Logger) *Poller {
	return &Poller{
		carts:   carts,
		reader:  reader,
		log:     log.With().Str("component", "checkout-poller").Logger(),
		backoff: time.Second,
	}
}

// Run reads until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error().Err(err).Msg("error closing reader")
	}
}

func (p *Poller) poll(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Error().Err(err).Msg("error reading message")
		select {
		case <-time.After(p.backoff):
		case <-ctx.Done():
		}
		return
	}

	if err := p.handleMessage(ctx, m); err != nil {
		p.log.Warn().Err(err).
			Int("partition", m.Partition).
			Int64("offset", m.Offset).
			Msg("checkout event skipped")
	}
}

// handleMessage clears the cart named by a checkout event.
func (p *Poller) handleMessage(ctx context.Context, m kafka.Message) error {
	var event checkoutEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return ErrMissingUserID
	}

	store, err := p.carts.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load cart for %s: %w", userID, err)
	}
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	p.log.Info().Str("user_id", userID).Str("checkout_id", event.CheckoutID).Msg("cart cleared after checkout")
	return nil
}
