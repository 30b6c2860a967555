package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SoldItem is one order line joined with its order and product, as read by
// the trend and style stages.
type SoldItem struct {
	ProductID  int64     `bun:"product_id" json:"product_id"`
	CustomerID int64     `bun:"customer_id" json:"customer_id"`
	Name       string    `bun:"name" json:"name"`
	Color      string    `bun:"color" json:"color,omitempty"`
	Pattern    string    `bun:"pattern" json:"pattern,omitempty"`
	Material   string    `bun:"material" json:"material,omitempty"`
	Quantity   int       `bun:"quantity" json:"quantity"`
	Price      float64   `bun:"price_at_time" json:"price"`
	SoldAt     time.Time `bun:"sold_at" json:"sold_at"`
}

// SalesFilter narrows SoldItems. Zero fields do not filter.
type SalesFilter struct {
	Since      time.Time
	CustomerID int64
}

// SoldItems returns the lines of every order that was not cancelled, oldest first.
func (s *Store) SoldItems(ctx context.Context, f SalesFilter) ([]SoldItem, error) {
	q := s.db.NewSelect().
		TableExpr("order_items AS oi").
		ColumnExpr("oi.product_id, oi.quantity, oi.price_at_time").
		ColumnExpr("o.customer_id, o.created_at AS sold_at").
		ColumnExpr("p.name, p.color, p.pattern, p.material").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Join("JOIN products AS p ON p.id = oi.product_id").
		Where("o.status != ?", OrderCancelled)
	if !f.Since.IsZero() {
		q = q.Where("o.created_at >= ?", f.Since.UTC())
	}
	if f.CustomerID > 0 {
		q = q.Where("o.customer_id = ?", f.CustomerID)
	}

	var items []SoldItem
	if err := q.OrderExpr("o.created_at ASC, oi.id ASC").Scan(ctx, &items); err != nil {
		return nil, fmt.Errorf("select sold items: %w", err)
	}
	return items, nil
}

// InteractionCounts counts interactions per type since the given time.
func (s *Store) InteractionCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	var rows []struct {
		Type  string `bun:"interaction_type"`
		Count int    `bun:"n"`
	}
	err := s.db.NewSelect().
		Model((*Interaction)(nil)).
		ColumnExpr("i.interaction_type").
		ColumnExpr("COUNT(*) AS n").
		Where("i.timestamp >= ?", since.UTC()).
		GroupExpr("i.interaction_type").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count interactions: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Type] = r.Count
	}
	return out, nil
}

// InStockProducts lists products with stock left, lowest id first.
func (s *Store) InStockProducts(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Product
	err := s.db.NewSelect().
		Model(&out).
		Where("p.stock_quantity > 0").
		OrderExpr("p.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select in-stock products: %w", err)
	}
	return out, nil
}

// CustomerByWhatsApp looks a customer up without creating it.
func (s *Store) CustomerByWhatsApp(ctx context.Context, whatsappID string) (*Customer, error) {
	whatsappID = strings.TrimSpace(whatsappID)
	if whatsappID == "" {
		return nil, fmt.Errorf("%w: empty whatsapp id", ErrCustomerNotFound)
	}
	c := new(Customer)
	err := s.db.NewSelect().Model(c).Where("whatsapp_id = ?", whatsappID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, whatsappID)
	}
	if err != nil {
		return nil, fmt.Errorf("select customer %s: %w", whatsappID, err)
	}
	return c, nil
}
