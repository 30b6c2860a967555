package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog/catalogtest"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	routingx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/routing"
)

func request(payload map[string]any) contractx.Envelope {
	return contractx.NewEnvelope(contractx.KindText, payload, map[string]any{contractx.MetaCustomerID: "cust-1"})
}

func TestCheckAvailabilityInStock(t *testing.T) {
	store := catalogtest.NewStore(t)
	p := catalogtest.SeedProduct(t, store, "Silk scarf", 49.5, 3)
	a := New(store)
	require.NoError(t, a.Initialize(context.Background()))

	out, err := a.Process(context.Background(), request(map[string]any{
		"action": ActionCheckAvailability, "product_id": float64(p.ID), "quantity": 2,
	}))
	require.NoError(t, err)

	assert.Equal(t, contractx.KindInventoryResponse, out.Kind)
	assert.Equal(t, true, out.Payload[contractx.MarkerAvailability])
	assert.Equal(t, "create_order", out.PayloadString("action"))
	assert.Equal(t, "cust-1", out.CustomerID())
	assert.Equal(t, contractx.CategoryAvailable, routingx.Classify(out))

	items := out.Payload["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"product_id": p.ID, "quantity": 2, "price": 49.5}, items[0])
}

func TestCheckAvailabilityOffersSubstitutes(t *testing.T) {
	ctx := context.Background()
	store := catalogtest.NewStore(t)
	p := catalogtest.SeedProduct(t, store, "Silk scarf", 49.5, 1)
	alt := catalogtest.SeedProduct(t, store, "Satin scarf", 39, 5)
	empty := catalogtest.SeedProduct(t, store, "Wool scarf", 29, 0)
	require.NoError(t, store.LinkSimilar(ctx, p.ID, alt.ID, empty.ID))

	out, err := New(store).Process(ctx, request(map[string]any{
		"action": ActionCheckAvailability, "product_id": p.ID, "quantity": 2,
	}))
	require.NoError(t, err)

	assert.Equal(t, false, out.Payload[contractx.MarkerAvailability])
	assert.Equal(t, contractx.CategoryNotAvailable, routingx.Classify(out))
	assert.NotContains(t, out.Payload, "items")
	similar := out.Payload["similar_products"].([]any)
	require.Len(t, similar, 1)
	assert.Equal(t, alt.ID, similar[0].(map[string]any)["id"])
}

func TestReserveAndUpdateStock(t *testing.T) {
	ctx := context.Background()
	store := catalogtest.NewStore(t)
	p := catalogtest.SeedProduct(t, store, "Silk scarf", 49.5, 3)
	a := New(store)

	out, err := a.Process(ctx, request(map[string]any{"action": ActionReserveProduct, "product_id": p.ID, "quantity": 2}))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Payload["remaining_stock"])

	out, err = a.Process(ctx, request(map[string]any{"action": ActionReserveProduct, "product_id": p.ID, "quantity": 2}))
	require.NoError(t, err)
	require.True(t, out.IsError())
	assert.Contains(t, out.PayloadString("error"), "insufficient stock")

	out, err = a.Process(ctx, request(map[string]any{"action": ActionUpdateStock, "product_id": p.ID, "quantity": "10"}))
	require.NoError(t, err)
	assert.Equal(t, 10, out.Payload["new_quantity"])

	got, err := store.Product(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.StockQuantity)
}

func TestGetSimilarProducts(t *testing.T) {
	ctx := context.Background()
	store := catalogtest.NewStore(t)
	p := catalogtest.SeedProduct(t, store, "Silk scarf", 49.5, 3)
	alt := catalogtest.SeedProduct(t, store, "Satin scarf", 39, 5)
	require.NoError(t, store.LinkSimilar(ctx, p.ID, alt.ID))

	out, err := New(store).Process(ctx, request(map[string]any{"action": ActionGetSimilarProducts, "product_id": p.ID, "limit": 2}))
	require.NoError(t, err)
	assert.Len(t, out.Payload["similar_products"], 1)
	assert.Equal(t, ActionGetSimilarProducts, out.PayloadString("action_performed"))
}

func TestProcessRequestErrors(t *testing.T) {
	store := catalogtest.NewStore(t)
	a := New(store)

	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"unknown action", map[string]any{"action": "teleport"}, `unknown action: "teleport"`},
		{"missing action", map[string]any{}, `unknown action: ""`},
		{"missing product", map[string]any{"action": ActionCheckAvailability}, "product_id required"},
		{"fractional product", map[string]any{"action": ActionCheckAvailability, "product_id": 1.5}, "product_id required"},
		{"bad quantity", map[string]any{"action": ActionReserveProduct, "product_id": 1, "quantity": 0}, "quantity must be a positive integer"},
		{"update without quantity", map[string]any{"action": ActionUpdateStock, "product_id": 1}, "product id and quantity required"},
		{"unknown product", map[string]any{"action": ActionCheckAvailability, "product_id": 404}, "product not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := a.Process(context.Background(), request(tt.payload))
			require.NoError(t, err)
			require.True(t, out.IsError())
			assert.Contains(t, out.PayloadString("error"), tt.want)
			assert.Equal(t, contractx.CategoryError, routingx.Classify(out))
		})
	}
}

type brokenCatalog struct{ Catalog }

func (brokenCatalog) Product(ctx context.Context, id int64) (*catalog.Product, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailurePropagates(t *testing.T) {
	_, err := New(brokenCatalog{}).Process(context.Background(), request(map[string]any{
		"action": ActionCheckAvailability, "product_id": 1,
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	require.ErrorIs(t, New(nil).Initialize(context.Background()), contractx.ErrSetup)
}
