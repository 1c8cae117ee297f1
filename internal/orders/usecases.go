package orders

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultPageSize      = 10
	MaxPageSize          = 100
	MaxDescriptionLength = 1000
	MaxPage              = 1_000_000
)

// OrderUseCase places, looks up and cancels orders.
type OrderUseCase struct {
	runner  *TxRunner
	guard   *InventoryGuard
	orders  OrderRepository
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics

	newID func() string
	now   func() time.Time
}

func NewOrderUseCase(
	runner *TxRunner,
	products ProductRepository,
	orders OrderRepository,
	logger *zap.Logger,
	tracer trace.Tracer,
	metrics *Metrics,
) *OrderUseCase {
	return &OrderUseCase{
		runner:  runner,
		guard:   NewInventoryGuard(products),
		orders:  orders,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder reserves stock for every requested item and stores a pending
// order, all in one transaction. Names and prices come from the store.
func (uc *OrderUseCase) PlaceOrder(ctx context.Context, userID string, req PlaceOrderRequest) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.place_order")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("items", len(req.Items)),
	)

	if userID == "" {
		return nil, uc.reject(ctx, span, ErrUnauthorized)
	}
	if err := validatePlaceOrder(req); err != nil {
		return nil, uc.reject(ctx, span, err)
	}

	order, err := RunInTx(ctx, uc.runner, "place_order", func(ctx context.Context, tx Tx) (*Order, error) {
		assembler := NewAssembler(len(req.Items))
		for _, item := range req.Items {
			reserved, err := uc.guard.Reserve(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return nil, err
			}
			assembler.Add(reserved, item.Quantity)
		}

		order := assembler.Build(uc.newID(), userID, req.Description, uc.now())
		if err := uc.orders.InsertOrder(ctx, tx, order); err != nil {
			return nil, fmt.Errorf("failed to insert order: %w", err)
		}
		return order, nil
	})
	if err != nil {
		return nil, uc.reject(ctx, span, err)
	}

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("total_price", order.TotalPrice.StringFixed(2)),
	)
	uc.metrics.orderPlaced(ctx, len(order.Items))
	uc.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.Int("items", len(order.Items)),
		zap.String("total_price", order.TotalPrice.StringFixed(2)),
	)
	return order, nil
}

func (uc *OrderUseCase) reject(ctx context.Context, span trace.Span, err error) error {
	reason := rejectReason(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	uc.metrics.orderRejected(ctx, reason)

	if reason == "internal" {
		uc.logger.Error("order placement failed", zap.Error(err))
	} else {
		uc.logger.Debug("order placement rejected", zap.String("reason", reason), zap.Error(err))
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	var fields []string
	if len(req.Items) == 0 {
		fields = append(fields, "products: at least one product is required")
	}
	for i, item := range req.Items {
		if _, err := uuid.Parse(item.ProductID); err != nil {
			fields = append(fields, fmt.Sprintf("products[%d].productId: must be a valid id", i))
		}
		if item.Quantity <= 0 {
			fields = append(fields, fmt.Sprintf("products[%d].quantity: must be a positive integer", i))
		}
	}
	if utf8.RuneCountInString(req.Description) > MaxDescriptionLength {
		fields = append(fields, fmt.Sprintf("description: must be at most %d characters", MaxDescriptionLength))
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// GetOrder returns the order if the caller owns it or is an administrator.
// Any other case is reported as ErrOrderNotFound.
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string, caller Identity) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.get_order")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	if caller.UserID == "" {
		return nil, ErrUnauthorized
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrOrderNotFound
	}

	order, err := uc.orders.GetOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	if !caller.CanView(order) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns one page of the caller's own orders, newest first.
func (uc *OrderUseCase) ListOrders(ctx context.Context, caller Identity, query ListOrdersQuery) (*Page[Order], error) {
	ctx, span := uc.tracer.Start(ctx, "orders.list_orders")
	defer span.End()

	if caller.UserID == "" {
		return nil, ErrUnauthorized
	}

	query, err := normalizeListQuery(query)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("user_id", caller.UserID),
		attribute.Int("page", query.Page),
		attribute.Int("page_size", query.PageSize),
	)

	orders, total, err := uc.orders.ListOrdersByUser(ctx, caller.UserID, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []Order{}
	}

	return &Page[Order]{
		Data:       orders,
		PageNumber: query.Page,
		PageSize:   query.PageSize,
		TotalPages: totalPages(total, query.PageSize),
		TotalSize:  total,
	}, nil
}

func normalizeListQuery(q ListOrdersQuery) (ListOrdersQuery, error) {
	var fields []string
	if q.Page < 0 || q.Page > MaxPage {
		fields = append(fields, fmt.Sprintf("page: must be between 1 and %d", MaxPage))
	}
	if q.PageSize < 0 || q.PageSize > MaxPageSize {
		fields = append(fields, fmt.Sprintf("limit: must be between 1 and %d", MaxPageSize))
	}
	if q.Status != "" && !q.Status.Valid() {
		fields = append(fields, "status: unknown order status")
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		fields = append(fields, "from: must not be after to")
	}
	if len(fields) > 0 {
		return q, &ValidationError{Fields: fields}
	}

	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	return q, nil
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// CancelOrder cancels a pending order owned by the caller and puts its
// quantities back in stock.
func (uc *OrderUseCase) CancelOrder(ctx context.Context, orderID string, caller Identity) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.cancel_order")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	if caller.UserID == "" {
		return nil, ErrUnauthorized
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrOrderNotFound
	}

	order, err := RunInTx(ctx, uc.runner, "cancel_order", func(ctx context.Context, tx Tx) (*Order, error) {
		order, err := uc.orders.CancelOrder(ctx, tx, orderID, caller.UserID)
		if err != nil {
			return nil, err
		}
		for _, item := range order.Items {
			if err := uc.guard.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return nil, err
			}
		}
		return order, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	uc.metrics.orderCancelled(ctx)
	uc.logger.Info("order cancelled", zap.String("order_id", order.ID), zap.String("user_id", caller.UserID))
	return order, nil
}
