package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Domain errors. Agents turn these into error envelopes; anything else from
// the store is an infrastructure failure.
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidStatus     = errors.New("unknown order status")
	ErrEmptyOrder        = errors.New("order has no items")
)

// IsDomainError reports whether err describes a business condition rather
// than a store failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrProductNotFound, ErrOrderNotFound, ErrCustomerNotFound,
		ErrInsufficientStock, ErrInvalidQuantity, ErrInvalidStatus, ErrEmptyOrder,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Store struct {
	db  *bun.DB
	now func() time.Time
}

type StoreOption func(*Store)

// WithClock sets the time source used to stamp rows.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(db *bun.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the catalog tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*Product)(nil),
		(*SimilarProduct)(nil),
		(*Customer)(nil),
		(*Order)(nil),
		(*OrderItem)(nil),
		(*Interaction)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*Product)(nil), "products_name_idx", "name"},
		{(*Order)(nil), "orders_customer_id_idx", "customer_id"},
		{(*OrderItem)(nil), "order_items_order_id_idx", "order_id"},
		{(*Interaction)(nil), "interactions_customer_id_idx", "customer_id"},
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.column).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if _, err := s.db.NewInsert().Model(p).Exec(ctx); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Store) Product(ctx context.Context, id int64) (*Product, error) {
	return s.product(ctx, s.db, id)
}

func (s *Store) product(ctx context.Context, db bun.IDB, id int64) (*Product, error) {
	p := new(Product)
	err := db.NewSelect().Model(p).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select product %d: %w", id, err)
	}
	return p, nil
}

// ReserveStock takes qty units out of stock. The decrement is conditional on
// the stock still covering qty, so concurrent reservations never oversell.
func (s *Store) ReserveStock(ctx context.Context, id int64, qty int) (*Product, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	var out *Product
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		p, err := s.product(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.StockQuantity < qty {
			return fmt.Errorf("%w: product %d has %d, requested %d", ErrInsufficientStock, id, p.StockQuantity, qty)
		}

		res, err := tx.NewUpdate().
			Model((*Product)(nil)).
			Set("stock_quantity = stock_quantity - ?", qty).
			Set("updated_at = ?", s.now().UTC()).
			Where("id = ?", id).
			Where("stock_quantity >= ?", qty).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reserve product %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: product %d", ErrInsufficientStock, id)
		}

		out, err = s.product(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetStock(ctx context.Context, id int64, qty int) (*Product, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	res, err := s.db.NewUpdate().
		Model((*Product)(nil)).
		Set("stock_quantity = ?", qty).
		Set("updated_at = ?", s.now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update stock of product %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: id=%d", ErrProductNotFound, id)
	}
	return s.Product(ctx, id)
}

// LinkSimilar records others as substitutes for product id.
func (s *Store) LinkSimilar(ctx context.Context, id int64, others ...int64) error {
	if len(others) == 0 {
		return nil
	}
	links := make([]SimilarProduct, 0, len(others))
	for _, other := range others {
		links = append(links, SimilarProduct{ProductID: id, SimilarProductID: other})
	}
	if _, err := s.db.NewInsert().Model(&links).On("CONFLICT DO NOTHING").Returning("NULL").Exec(ctx); err != nil {
		return fmt.Errorf("link similar products of %d: %w", id, err)
	}
	return nil
}

// SimilarProducts returns in-stock substitutes for product id.
func (s *Store) SimilarProducts(ctx context.Context, id int64, limit int) ([]Product, error) {
	if _, err := s.Product(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	var out []Product
	err := s.db.NewSelect().
		Model(&out).
		Join("JOIN similar_products AS sp ON sp.similar_product_id = p.id").
		Where("sp.product_id = ?", id).
		Where("p.stock_quantity > 0").
		OrderExpr("p.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select similar products of %d: %w", id, err)
	}
	return out, nil
}

// EnsureCustomer returns the customer behind a WhatsApp id, creating it on first contact.
func (s *Store) EnsureCustomer(ctx context.Context, whatsappID string) (*Customer, error) {
	whatsappID = strings.TrimSpace(whatsappID)
	if whatsappID == "" {
		return nil, fmt.Errorf("%w: empty whatsapp id", ErrCustomerNotFound)
	}

	c := &Customer{WhatsAppID: whatsappID, CreatedAt: s.now().UTC()}
	if _, err := s.db.NewInsert().Model(c).On("CONFLICT (whatsapp_id) DO NOTHING").Returning("NULL").Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}

	out := new(Customer)
	if err := s.db.NewSelect().Model(out).Where("whatsapp_id = ?", whatsappID).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("select customer %s: %w", whatsappID, err)
	}
	return out, nil
}

// CreateOrder writes a pending order and its items in one transaction. Lines
// without a price take the current catalog price.
func (s *Store) CreateOrder(ctx context.Context, customerID int64, lines []OrderLine) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, line.ProductID)
		}
	}

	now := s.now().UTC()
	order := &Order{
		CustomerID:    customerID,
		Status:        OrderPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		items := make([]*OrderItem, 0, len(lines))
		total := 0.0
		for _, line := range lines {
			price := line.Price
			if price <= 0 {
				p, err := s.product(ctx, tx, line.ProductID)
				if err != nil {
					return err
				}
				price = p.Price
			}
			items = append(items, &OrderItem{
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
				PriceAtTime: price,
			})
			total += price * float64(line.Quantity)
		}
		order.TotalAmount = total

		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, item := range items {
			item.OrderID = order.ID
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		order.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) Order(ctx context.Context, id int64) (*Order, error) {
	o := new(Order)
	err := s.db.NewSelect().Model(o).Where("o.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select order %d: %w", id, err)
	}
	if err := s.db.NewSelect().Model(&o.Items).Where("order_id = ?", id).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select items of order %d: %w", id, err)
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) (*Order, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !orderStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.updateOrder(ctx, id, map[string]any{"status": status})
}

// MarkPaid records a successful payment and confirms the order.
func (s *Store) MarkPaid(ctx context.Context, id int64, method string) (*Order, error) {
	return s.updateOrder(ctx, id, map[string]any{
		"status":         OrderConfirmed,
		"payment_status": PaymentPaid,
		"payment_method": strings.TrimSpace(method),
	})
}

func (s *Store) updateOrder(ctx context.Context, id int64, fields map[string]any) (*Order, error) {
	q := s.db.NewUpdate().Model((*Order)(nil)).Where("id = ?", id)
	for _, col := range []string{"status", "payment_status", "payment_method"} {
		if v, ok := fields[col]; ok {
			q = q.Set("? = ?", bun.Ident(col), v)
		}
	}
	res, err := q.Set("updated_at = ?", s.now().UTC()).Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update order %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: id=%d", ErrOrderNotFound, id)
	}
	return s.Order(ctx, id)
}

func (s *Store) RecordInteraction(ctx context.Context, in *Interaction) error {
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now().UTC()
	}
	if _, err := s.db.NewInsert().Model(in).Exec(ctx); err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}
