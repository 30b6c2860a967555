// Package catalog is the product, customer and order store used by the
// inventory and transaction stages.
package catalog

import (
	"time"

	"github.com/uptrace/bun"
)

type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Name          string    `bun:"name,notnull" json:"name"`
	Description   string    `bun:"description" json:"description,omitempty"`
	Price         float64   `bun:"price,notnull" json:"price"`
	Material      string    `bun:"material" json:"material,omitempty"`
	Color         string    `bun:"color" json:"color,omitempty"`
	Pattern       string    `bun:"pattern" json:"pattern,omitempty"`
	Dimensions    string    `bun:"dimensions" json:"dimensions,omitempty"`
	StockQuantity int       `bun:"stock_quantity,notnull" json:"stock_quantity"`
	ImageURLs     []string  `bun:"image_urls" json:"image_urls,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// SimilarProduct links a product to one it can be substituted with.
type SimilarProduct struct {
	bun.BaseModel `bun:"table:similar_products,alias:sp"`

	ProductID        int64 `bun:"product_id,pk"`
	SimilarProductID int64 `bun:"similar_product_id,pk"`
}

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID               int64          `bun:"id,pk,autoincrement" json:"id"`
	WhatsAppID       string         `bun:"whatsapp_id,notnull,unique" json:"whatsapp_id"`
	Name             string         `bun:"name" json:"name,omitempty"`
	Preferences      map[string]any `bun:"preferences" json:"preferences,omitempty"`
	ConsentMarketing bool           `bun:"consent_marketing,notnull,default:false" json:"consent_marketing"`
	CreatedAt        time.Time      `bun:"created_at,notnull" json:"created_at"`
}

const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderPaid      = "paid"
	OrderShipped   = "shipped"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"

	PaymentUnpaid = "unpaid"
	PaymentPaid   = "paid"
)

var orderStatuses = map[string]bool{
	OrderPending:   true,
	OrderConfirmed: true,
	OrderPaid:      true,
	OrderShipped:   true,
	OrderDelivered: true,
	OrderCancelled: true,
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID              int64        `bun:"id,pk,autoincrement" json:"id"`
	CustomerID      int64        `bun:"customer_id,notnull" json:"customer_id"`
	Status          string       `bun:"status,notnull" json:"status"`
	TotalAmount     float64      `bun:"total_amount,notnull" json:"total_amount"`
	PaymentStatus   string       `bun:"payment_status,notnull" json:"payment_status"`
	PaymentMethod   string       `bun:"payment_method" json:"payment_method,omitempty"`
	ShippingAddress string       `bun:"shipping_address" json:"shipping_address,omitempty"`
	CreatedAt       time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time    `bun:"updated_at,notnull" json:"updated_at"`
	Items           []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID          int64   `bun:"id,pk,autoincrement" json:"id"`
	OrderID     int64   `bun:"order_id,notnull" json:"order_id"`
	ProductID   int64   `bun:"product_id,notnull" json:"product_id"`
	Quantity    int     `bun:"quantity,notnull" json:"quantity"`
	PriceAtTime float64 `bun:"price_at_time,notnull" json:"price_at_time"`
}

// Interaction is one customer touchpoint: a message, an image or a purchase.
type Interaction struct {
	bun.BaseModel `bun:"table:interactions,alias:i"`

	ID              int64          `bun:"id,pk,autoincrement" json:"id"`
	CustomerID      int64          `bun:"customer_id,notnull" json:"customer_id"`
	InteractionType string         `bun:"interaction_type,notnull" json:"interaction_type"`
	Content         string         `bun:"content" json:"content"`
	Metadata        map[string]any `bun:"metadata" json:"metadata,omitempty"`
	Timestamp       time.Time      `bun:"timestamp,notnull" json:"timestamp"`
}

// OrderLine is one requested item of a new order.
type OrderLine struct {
	ProductID int64
	Quantity  int
	// Price overrides the catalog price when positive.
	Price float64
}
