package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/cart"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/storage"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu       sync.Mutex
	messages chan kafka.Message
	errs     chan error
	closed   bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{messages: make(chan kafka.Message, 10), errs: make(chan error, 10)}
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.messages:
		return m, nil
	case err := <-f.errs:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func seededRegistry(t *testing.T, users ...string) *cart.Registry {
	t.Helper()
	reg := cart.NewRegistry(storage.NewMemoryStorage(), zerolog.Nop())
	for _, user := range users {
		s, err := reg.Get(context.Background(), user)
		require.NoError(t, err)
		require.NoError(t, s.Add(context.Background(), domain.LineItem{ProductID: 1, Slug: "mug"}, 2))
	}
	return reg
}

func checkoutMessage(t *testing.T, payload map[string]any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{Key: []byte("chId"), Value: raw}
}

func totalItems(t *testing.T, reg *cart.Registry, user string) int {
	t.Helper()
	s, err := reg.Get(context.Background(), user)
	require.NoError(t, err)
	return s.TotalItems()
}

func TestHandleMessage_ClearsCart(t *testing.T) {
	reg := seededRegistry(t, "123", "456")
	p := newPoller(reg, newFakeReader(), zerolog.Nop())

	err := p.handleMessage(context.Background(), checkoutMessage(t, map[string]any{
		"checkout_id":  "chId",
		"user_id":      "123",
		"total_amount": "1",
		"currency":     "rur",
	}))
	require.NoError(t, err)

	assert.Equal(t, 0, totalItems(t, reg, "123"))
	assert.Equal(t, 2, totalItems(t, reg, "456"))
}

func TestHandleMessage_Invalid(t *testing.T) {
	reg := seededRegistry(t, "123")
	p := newPoller(reg, newFakeReader(), zerolog.Nop())

	tests := []struct {
		name  string
		value []byte
	}{
		{"not json", []byte("{{")},
		{"no user", []byte(`{"checkout_id":"chId"}`)},
		{"blank user", []byte(`{"user_id":"  "}`)},
		{"numeric user", []byte(`{"user_id":123}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.handleMessage(context.Background(), kafka.Message{Value: tt.value})
			assert.Error(t, err)
		})
	}

	assert.ErrorIs(t, p.handleMessage(context.Background(), kafka.Message{Value: []byte(`{}`)}), ErrMissingUserID)
	assert.Equal(t, 2, totalItems(t, reg, "123"))
}

type failingProvider struct{}

func (failingProvider) Get(context.Context, string) (*cart.Store, error) {
	return nil, errors.New("storage unavailable")
}

func TestHandleMessage_ProviderError(t *testing.T) {
	p := newPoller(failingProvider{}, newFakeReader(), zerolog.Nop())

	err := p.handleMessage(context.Background(), checkoutMessage(t, map[string]any{"user_id": "123"}))
	assert.ErrorContains(t, err, "storage unavailable")
}

func TestRun_ProcessesMessagesAndSurvivesErrors(t *testing.T) {
	reg := seededRegistry(t, "123")
	reader := newFakeReader()
	p := newPoller(reg, reader, zerolog.Nop())
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	reader.errs <- errors.New("broker unavailable")
	reader.messages <- kafka.Message{Value: []byte("garbage")}
	reader.messages <- checkoutMessage(t, map[string]any{"user_id": "123"})

	require.Eventually(t, func() bool {
		return totalItems(t, reg, "123") == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}

	p.Close()
	assert.True(t, reader.closed)
}
