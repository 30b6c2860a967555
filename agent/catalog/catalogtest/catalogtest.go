// Package catalogtest opens throwaway catalog stores for tests of the stages
// that sit on top of the catalog.
package catalogtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
)

// NewStore returns a migrated store backed by an in-memory SQLite database
// that is closed when the test ends.
func NewStore(t testing.TB, opts ...catalog.StoreOption) *catalog.Store {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	s := catalog.NewStore(db, opts...)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func SeedProduct(t testing.TB, s *catalog.Store, name string, price float64, stock int) *catalog.Product {
	t.Helper()
	p := &catalog.Product{Name: name, Price: price, StockQuantity: stock}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

// SeedOrder records a paid order of qty units of p for the customer behind whatsappID.
func SeedOrder(t testing.TB, s *catalog.Store, whatsappID string, p *catalog.Product, qty int) *catalog.Order {
	t.Helper()
	ctx := context.Background()
	c, err := s.EnsureCustomer(ctx, whatsappID)
	require.NoError(t, err)
	o, err := s.CreateOrder(ctx, c.ID, []catalog.OrderLine{{ProductID: p.ID, Quantity: qty}})
	require.NoError(t, err)
	o, err = s.MarkPaid(ctx, o.ID, "card")
	require.NoError(t, err)
	return o
}
