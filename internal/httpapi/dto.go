package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

// Unknown fields such as a client supplied price or name are ignored.
type placeOrderItemRequest struct {
	ProductID string `json:"productId" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type placeOrderRequest struct {
	Products    []placeOrderItemRequest `json:"products" binding:"required,min=1,dive"`
	Description string                  `json:"description" binding:"max=1000"`
}

func (r placeOrderRequest) toDomain() orders.PlaceOrderRequest {
	items := make([]orders.PlaceOrderItem, 0, len(r.Products))
	for _, p := range r.Products {
		items = append(items, orders.PlaceOrderItem{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	return orders.PlaceOrderRequest{Items: items, Description: r.Description}
}

type listOrdersRequest struct {
	Page   int       `form:"page" json:"page" binding:"omitempty,min=1,max=1000000"`
	Limit  int       `form:"limit" json:"limit" binding:"omitempty,min=1,max=100"`
	Status string    `form:"status" json:"status" binding:"omitempty,oneof=pending processing shipped delivered cancelled"`
	From   time.Time `form:"from" json:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" json:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (r listOrdersRequest) toDomain() orders.ListOrdersQuery {
	return orders.ListOrdersQuery{
		Page:     r.Page,
		PageSize: r.Limit,
		Status:   orders.OrderStatus(r.Status),
		From:     r.From,
		To:       r.To,
	}
}

type createProductRequest struct {
	Name        string          `json:"name" binding:"required,max=200"`
	Description string          `json:"description" binding:"max=2000"`
	Price       decimal.Decimal `json:"price"`
	Stock       *int            `json:"stock" binding:"required,gte=0,lte=2147483647"`
	Category    string          `json:"category" binding:"max=100"`
}

type updateProductRequest struct {
	Name        *string          `json:"name" binding:"omitempty,min=1,max=200"`
	Description *string          `json:"description" binding:"omitempty,max=2000"`
	Price       *decimal.Decimal `json:"price"`
	Category    *string          `json:"category" binding:"omitempty,max=100"`
	Status      *string          `json:"status" binding:"omitempty,oneof=active retired"`
}

func (r updateProductRequest) toDomain() orders.UpdateProductInput {
	in := orders.UpdateProductInput{
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Category:    r.Category,
	}
	if r.Status != nil {
		status := orders.ProductStatus(*r.Status)
		in.Status = &status
	}
	return in
}

type restockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0,lte=2147483647"`
}

type lineItemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type orderResponse struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Products    []lineItemResponse `json:"products"`
	TotalPrice  float64            `json:"totalPrice"`
	Status      string             `json:"status"`
	Description string             `json:"description"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func toOrderResponse(o *orders.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price.InexactFloat64(),
			Quantity:  item.Quantity,
		})
	}
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Products:    items,
		TotalPrice:  o.TotalPrice.InexactFloat64(),
		Status:      string(o.Status),
		Description: o.Description,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

type pageResponse struct {
	Data       []orderResponse `json:"data"`
	PageNumber int             `json:"pageNumber"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
	TotalSize  int             `json:"totalSize"`
}

func toPageResponse(p *orders.Page[orders.Order]) pageResponse {
	data := make([]orderResponse, 0, len(p.Data))
	for i := range p.Data {
		data = append(data, toOrderResponse(&p.Data[i]))
	}
	return pageResponse{
		Data:       data,
		PageNumber: p.PageNumber,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages,
		TotalSize:  p.TotalSize,
	}
}

type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	OwnerID     string    `json:"ownerId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProductResponse(p *orders.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.InexactFloat64(),
		Stock:       p.Stock,
		Category:    p.Category,
		OwnerID:     p.OwnerID,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type errorResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}
