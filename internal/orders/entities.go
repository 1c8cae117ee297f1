package orders

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the lifecycle state of a catalog product.
type ProductStatus string

const (
	ProductStatusActive  ProductStatus = "active"
	ProductStatusRetired ProductStatus = "retired"
)

// MaxStock is the largest stock a product may hold. Stores keep stock in a
// 32-bit column.
const MaxStock = math.MaxInt32

// Product is a catalog entry whose stock is consumed by order placement.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	OwnerID     string          `json:"owner_id"`
	Status      ProductStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewProduct creates an active product.
func NewProduct(id, ownerID, name, description, category string, price decimal.Decimal, stock int) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:          id,
		Name:        name,
		Description: description,
		Price:       RoundPrice(price),
		Stock:       stock,
		Category:    category,
		OwnerID:     ownerID,
		Status:      ProductStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Orderable reports whether the product can be reserved by new orders.
func (p *Product) Orderable() bool {
	return p.Status == ProductStatusActive
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// LineItem is one product entry of an order. Name and Price are snapshots
// taken from the catalog when the order was placed.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Subtotal returns price × quantity rounded to cents.
func (li LineItem) Subtotal() decimal.Decimal {
	return RoundPrice(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
}

// Order is a placed order with its embedded line items.
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Items       []LineItem      `json:"items"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      OrderStatus     `json:"status"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewOrder creates a pending order. The total is always derived from items.
func NewOrder(id, userID, description string, items []LineItem, createdAt time.Time) *Order {
	o := &Order{
		ID:          id,
		UserID:      userID,
		Items:       items,
		Status:      OrderStatusPending,
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	o.TotalPrice = o.ComputeTotal()
	return o
}

// ComputeTotal returns round2(Σ price × quantity) over the order's items.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return RoundPrice(total)
}

// Cancel moves a pending order to cancelled.
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

// RoundPrice rounds a monetary amount to two decimal places.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Role of an authenticated caller.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the authenticated caller as supplied by the auth layer.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanView reports whether the caller may see the order.
func (i Identity) CanView(o *Order) bool {
	return i.IsAdmin() || (i.UserID != "" && o.UserID == i.UserID)
}

// PlaceOrderItem is one requested product and quantity.
type PlaceOrderItem struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest is the validated input of PlaceOrder. It deliberately has
// no price or name fields.
type PlaceOrderRequest struct {
	Items       []PlaceOrderItem
	Description string
}

// ListOrdersQuery holds pagination and filter options for ListOrders.
type ListOrdersQuery struct {
	Page     int
	PageSize int
	Status   OrderStatus
	From     time.Time
	To       time.Time
}

// Page is a paginated result set.
type Page[T any] struct {
	Data       []T
	PageNumber int
	PageSize   int
	TotalPages int
	TotalSize  int
}
