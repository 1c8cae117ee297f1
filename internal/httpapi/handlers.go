package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

const (
	idempotencyHeader = "Idempotency-Key"
	completeAttempts  = 3
)

// OrderService is implemented by *orders.OrderUseCase.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, req orders.PlaceOrderRequest) (*orders.Order, error)
	GetOrder(ctx context.Context, orderID string, caller orders.Identity) (*orders.Order, error)
	ListOrders(ctx context.Context, caller orders.Identity, query orders.ListOrdersQuery) (*orders.Page[orders.Order], error)
	CancelOrder(ctx context.Context, orderID string, caller orders.Identity) (*orders.Order, error)
}

// ProductService is implemented by *orders.ProductUseCase.
type ProductService interface {
	CreateProduct(ctx context.Context, caller orders.Identity, in orders.CreateProductInput) (*orders.Product, error)
	GetProduct(ctx context.Context, productID string) (*orders.Product, error)
	UpdateProduct(ctx context.Context, caller orders.Identity, productID string, in orders.UpdateProductInput) (*orders.Product, error)
	Restock(ctx context.Context, caller orders.Identity, productID string, quantity int) (*orders.Product, error)
}

// IdempotencyStore is implemented by *idempotency.Store.
type IdempotencyStore interface {
	Begin(ctx context.Context, userID, key string) (string, error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

type OrderHandler struct {
	orders  OrderService
	idem    IdempotencyStore
	logger  *zap.Logger
	tracer  trace.Tracer
	timeout time.Duration
}

func NewOrderHandler(svc OrderService, idem IdempotencyStore, logger *zap.Logger, tracer trace.Tracer, timeout time.Duration) *OrderHandler {
	return &OrderHandler{
		orders:  svc,
		idem:    idem,
		logger:  logger,
		tracer:  tracer,
		timeout: timeout,
	}
}

// PlaceOrder creates an order from the caller's product list.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.place_order")
	defer span.End()

	caller := identity(c)

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		writeError(c, h.logger, bindError(err))
		return
	}
	span.SetAttributes(
		attribute.String("user_id", caller.UserID),
		attribute.Int("items", len(req.Products)),
	)

	key := c.GetHeader(idempotencyHeader)
	if key != "" && h.idem != nil {
		orderID, err := h.idem.Begin(ctx, caller.UserID, key)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		if orderID != "" {
			h.replay(ctx, c, orderID, caller)
			return
		}
	}

	placeCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		placeCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	order, err := h.orders.PlaceOrder(placeCtx, caller.UserID, req.toDomain())
	if err != nil {
		span.RecordError(err)
		if key != "" && h.idem != nil {
			if relErr := h.idem.Release(context.WithoutCancel(ctx), caller.UserID, key); relErr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(relErr))
			}
		}
		writeError(c, h.logger, err)
		return
	}

	if key != "" && h.idem != nil {
		h.complete(context.WithoutCancel(ctx), caller.UserID, key, order.ID)
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// complete binds the key to the order. If that keeps failing the key is
// released, so a retry is not stuck on 409 until the key expires.
func (h *OrderHandler) complete(ctx context.Context, userID, key, orderID string) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h.idem.Complete(ctx, userID, key, orderID)
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     20 * time.Millisecond,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         200 * time.Millisecond,
		}),
		backoff.WithMaxTries(completeAttempts),
	)
	if err == nil {
		return
	}

	h.logger.Error("failed to store idempotency result, releasing key",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	if err := h.idem.Release(ctx, userID, key); err != nil {
		h.logger.Error("failed to release idempotency key", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (h *OrderHandler) replay(ctx context.Context, c *gin.Context, orderID string, caller orders.Identity) {
	order, err := h.orders.GetOrder(ctx, orderID, caller)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.get_order")
	defer span.End()

	order, err := h.orders.GetOrder(ctx, c.Param("id"), identity(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.list_orders")
	defer span.End()

	var req listOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}

	page, err := h.orders.ListOrders(ctx, identity(c), req.toDomain())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPageResponse(page))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "http.cancel_order")
	defer span.End()

	order, err := h.orders.CancelOrder(ctx, c.Param("id"), identity(c))
	if err != nil {
		span.RecordError(err)
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

type ProductHandler struct {
	products ProductService
	logger   *zap.Logger
}

func NewProductHandler(svc ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{products: svc, logger: logger}
}

func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}

	product, err := h.products.CreateProduct(c.Request.Context(), identity(c), orders.CreateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       *req.Stock,
		Category:    req.Category,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}

	product, err := h.products.UpdateProduct(c.Request.Context(), identity(c), c.Param("id"), req.toDomain())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *ProductHandler) Restock(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err))
		return
	}

	product, err := h.products.Restock(c.Request.Context(), identity(c), c.Param("id"), req.Quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}
