package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStorage struct {
	m       sync.RWMutex
	values  map[string][]byte
	getErr  error
	setErr  error
	setCall int
}

func newMockStorage() *mockStorage {
	return &mockStorage{values: make(map[string][]byte)}
}

func (m *mockStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *mockStorage) Set(_ context.Context, key string, value []byte) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.setCall++
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *mockStorage) Delete(_ context.Context, key string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.values, key)
	return nil
}

func (m *mockStorage) persisted(t *testing.T, key string) []map[string]any {
	t.Helper()
	m.m.RLock()
	defer m.m.RUnlock()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(m.values[key], &out))
	return out
}

func (m *mockStorage) writes() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.setCall
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, st storage.Storage) *Store {
	t.Helper()
	s, err := Open(context.Background(), st, "user123", zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s
}

func mug(variantID int64) domain.LineItem {
	return domain.LineItem{
		ProductID:   1,
		VariantID:   variantID,
		Slug:        "mug",
		Title:       map[string]string{"en-US": "Mug"},
		PriceAmount: "9.90",
	}
}

func TestOpen_EmptyWhenNothingPersisted(t *testing.T) {
	s := openStore(t, newMockStorage())

	assert.Empty(t, s.Items())
	assert.Equal(t, 0, s.TotalItems())
	assert.Equal(t, "user123", s.Key())
}

func TestOpen_StorageErrorIsReturned(t *testing.T) {
	st := newMockStorage()
	st.getErr = fmt.Errorf("connection refused")

	_, err := Open(context.Background(), st, "user123", zerolog.Nop())
	require.ErrorContains(t, err, "connection refused")
}

func TestAdd_AppendsAndPersists(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)

	require.NoError(t, s.Add(context.Background(), mug(2), 3))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, fixedNow, items[0].Stock.SnapshotAt, "snapshot time defaults to now")

	persisted := st.persisted(t, "user123")
	require.Len(t, persisted, 1)
	assert.Equal(t, float64(1), persisted[0]["productId"])
	assert.Equal(t, float64(2), persisted[0]["skuId"])
	assert.Equal(t, float64(3), persisted[0]["quantity"])
}

func TestAdd_MergesSameIdentityCappedAt99(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, mug(2), 60))
	require.NoError(t, s.Add(ctx, mug(2), 50))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 99, items[0].Quantity)
}

func TestAdd_MergeOverwritesNonQuantityFields(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()

	first := mug(2)
	first.Stock.ManualTotal = domain.Int64(10)
	require.NoError(t, s.Add(ctx, first, 1))

	second := mug(2)
	second.PriceAmount = "12.00"
	second.Title = map[string]string{"en-US": "Big mug"}
	require.NoError(t, s.Add(ctx, second, 2))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "12.00", items[0].PriceAmount)
	assert.Equal(t, "Big mug", items[0].Title["en-US"])
	assert.Nil(t, items[0].Stock.ManualTotal, "stock snapshot is last-write-wins too")
}

func TestAdd_DistinctVariantsAreSeparateLines(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, mug(1), 1))
	require.NoError(t, s.Add(ctx, mug(2), 1))
	require.NoError(t, s.Add(ctx, mug(0), 1))
	require.NoError(t, s.Add(ctx, mug(-5), 1)) // same identity as variant 0

	items := s.Items()
	require.Len(t, items, 3)
	assert.Equal(t, int64(1), items[0].VariantID)
	assert.Equal(t, int64(2), items[1].VariantID)
	assert.Equal(t, int64(0), items[2].VariantID)
	assert.Equal(t, 2, items[2].Quantity)
	assert.Equal(t, 4, s.TotalItems())
}

func TestAdd_ClampsQuantity(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, mug(1), 0))
	require.NoError(t, s.Add(ctx, mug(2), 500))

	items := s.Items()
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, 99, items[1].Quantity)
}

func TestAdd_NormalizesStockCounters(t *testing.T) {
	s := openStore(t, newMockStorage())

	item := mug(1)
	item.Stock = domain.StockSnapshot{
		ManualTotal:   domain.Int64(domain.UnlimitedManualStock),
		ManualLocked:  domain.Int64(-4),
		AutoAvailable: domain.Int64(3),
	}
	require.NoError(t, s.Add(context.Background(), item, 1))

	got := s.Items()[0].Stock
	assert.Equal(t, domain.UnlimitedManualStock, *got.ManualTotal)
	assert.Equal(t, int64(0), *got.ManualLocked)
	assert.Nil(t, got.ManualSold)
	assert.Equal(t, int64(3), *got.AutoAvailable)
}

func TestAdd_RejectsMissingProduct(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)

	err := s.Add(context.Background(), domain.LineItem{Slug: "x"}, 1)
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.Equal(t, 0, st.writes())
}

func TestAdd_PersistFailureKeepsState(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)
	st.setErr = fmt.Errorf("disk full")

	err := s.Add(context.Background(), mug(1), 2)
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 2, s.TotalItems())
	assert.True(t, s.Unsaved())

	st.m.Lock()
	st.setErr = nil
	st.m.Unlock()

	require.NoError(t, s.Add(context.Background(), mug(1), 1))
	assert.False(t, s.Unsaved())
	saved := st.persisted(t, "user123")
	require.Len(t, saved, 1)
	assert.Equal(t, float64(3), saved[0]["quantity"])
}

func TestUpdateQuantity(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, mug(2), 1))

	require.NoError(t, s.UpdateQuantity(ctx, 1, 20, 2))
	assert.Equal(t, 20, s.Items()[0].Quantity)

	require.NoError(t, s.UpdateQuantity(ctx, 1, 0, 2))
	assert.Equal(t, 1, s.Items()[0].Quantity)

	require.NoError(t, s.UpdateQuantity(ctx, 1, 1000, 2))
	assert.Equal(t, 99, s.Items()[0].Quantity)
}

func TestUpdateQuantity_UnknownIdentityIsNoOp(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, mug(2), 4))
	before := s.Items()
	writes := st.writes()

	require.NoError(t, s.UpdateQuantity(ctx, 1, 9, 3))
	require.NoError(t, s.UpdateQuantity(ctx, 7, 9, 2))

	assert.Equal(t, before, s.Items())
	assert.Equal(t, writes, st.writes())
}

func TestPatchItem_AppliesAndRenormalizes(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, mug(2), 3))

	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	err := s.PatchItem(ctx, 1, 2, domain.ItemPatch{
		VariantCode:   domain.String("RED-L"),
		ManualTotal:   domain.Int64(-7),
		ManualSold:    domain.Int64(2),
		AutoAvailable: domain.Int64(5),
		Enforced:      domain.Bool(true),
		SnapshotAt:    &at,
	})
	require.NoError(t, err)

	item := s.Items()[0]
	assert.Equal(t, "RED-L", item.VariantCode)
	assert.Equal(t, int64(0), *item.Stock.ManualTotal)
	assert.Equal(t, int64(2), *item.Stock.ManualSold)
	assert.Equal(t, int64(5), *item.Stock.AutoAvailable)
	assert.True(t, *item.Stock.Enforced)
	assert.Equal(t, at.UTC(), item.Stock.SnapshotAt)
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, "9.90", item.PriceAmount, "unset patch fields are untouched")
}

func TestPatchItem_UnknownIdentityIsNoOp(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, mug(2), 1))
	writes := st.writes()

	require.NoError(t, s.PatchItem(ctx, 1, 9, domain.ItemPatch{VariantCode: domain.String("X")}))

	assert.Equal(t, "", s.Items()[0].VariantCode)
	assert.Equal(t, writes, st.writes())
}

func TestRemoveItem_Idempotent(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, mug(1), 1))
	require.NoError(t, s.Add(ctx, mug(2), 1))

	require.NoError(t, s.RemoveItem(ctx, 1, 1))
	require.NoError(t, s.RemoveItem(ctx, 1, 1))
	require.NoError(t, s.RemoveItem(ctx, 42, 0))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].VariantID)
}

func TestClear(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, mug(1), 5))

	require.NoError(t, s.Clear(ctx))

	assert.Empty(t, s.Items())
	assert.Equal(t, 0, s.TotalItems())
	assert.Empty(t, st.persisted(t, "user123"))
}

func TestItems_ReturnsCopies(t *testing.T) {
	s := openStore(t, newMockStorage())
	item := mug(1)
	item.Stock.ManualTotal = domain.Int64(3)
	require.NoError(t, s.Add(context.Background(), item, 1))

	got := s.Items()
	got[0].Title["en-US"] = "changed"
	*got[0].Stock.ManualTotal = 100

	fresh := s.Items()[0]
	assert.Equal(t, "Mug", fresh.Title["en-US"])
	assert.Equal(t, int64(3), *fresh.Stock.ManualTotal)
}

func TestStore_ReloadRoundTrip(t *testing.T) {
	st := newMockStorage()
	s := openStore(t, st)
	ctx := context.Background()

	item := mug(2)
	item.VariantCode = "RED-L"
	item.VariantAttributes = map[string]any{"color": "red"}
	item.ManualFormSchema = json.RawMessage(`{"fields":[]}`)
	item.Stock = domain.StockSnapshot{ManualTotal: domain.Int64(8), Enforced: domain.Bool(false)}
	require.NoError(t, s.Add(ctx, item, 4))

	reloaded := openStore(t, st)
	require.Len(t, reloaded.Items(), 1)
	got := reloaded.Items()[0]
	assert.Equal(t, s.Items()[0], got)
	assert.Equal(t, 0, reloaded.Dropped())
}

func TestStore_ConcurrentAdds(t *testing.T) {
	s := openStore(t, newMockStorage())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Add(ctx, mug(1), 1)
		}()
	}
	wg.Wait()

	require.Len(t, s.Items(), 1)
	assert.Equal(t, 50, s.TotalItems())
}
