package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CreateProductInput holds the catalog fields of a new product.
type CreateProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
}

// UpdateProductInput is a partial update; nil fields are left unchanged.
type UpdateProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Category    *string
	Status      *ProductStatus
}

// ProductUseCase administers the catalog. Editing a product never touches
// orders that were already placed.
type ProductUseCase struct {
	runner   *TxRunner
	products ProductRepository
	logger   *zap.Logger
	tracer   trace.Tracer

	newID func() string
}

func NewProductUseCase(runner *TxRunner, products ProductRepository, logger *zap.Logger, tracer trace.Tracer) *ProductUseCase {
	return &ProductUseCase{
		runner:   runner,
		products: products,
		logger:   logger,
		tracer:   tracer,
		newID:    uuid.NewString,
	}
}

func (uc *ProductUseCase) CreateProduct(ctx context.Context, caller Identity, in CreateProductInput) (*Product, error) {
	ctx, span := uc.tracer.Start(ctx, "products.create_product")
	defer span.End()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	var fields []string
	if strings.TrimSpace(in.Name) == "" {
		fields = append(fields, "name: is required")
	}
	if in.Price.IsNegative() {
		fields = append(fields, "price: must not be negative")
	}
	if in.Stock < 0 || in.Stock > MaxStock {
		fields = append(fields, fmt.Sprintf("stock: must be between 0 and %d", MaxStock))
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	product := NewProduct(uc.newID(), caller.UserID, in.Name, in.Description, in.Category, in.Price, in.Stock)
	if err := uc.products.CreateProduct(ctx, product); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	span.SetAttributes(attribute.String("product_id", product.ID))
	uc.logger.Info("product created", zap.String("product_id", product.ID), zap.Int("stock", product.Stock))
	return product, nil
}

func (uc *ProductUseCase) GetProduct(ctx context.Context, productID string) (*Product, error) {
	ctx, span := uc.tracer.Start(ctx, "products.get_product")
	defer span.End()

	if _, err := uuid.Parse(productID); err != nil {
		return nil, ErrProductNotFound
	}
	return uc.products.GetProduct(ctx, productID)
}

func (uc *ProductUseCase) UpdateProduct(ctx context.Context, caller Identity, productID string, in UpdateProductInput) (*Product, error) {
	ctx, span := uc.tracer.Start(ctx, "products.update_product")
	defer span.End()

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil, ErrProductNotFound
	}

	product, err := uc.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	var fields []string
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			fields = append(fields, "name: must not be empty")
		}
		product.Name = *in.Name
	}
	if in.Description != nil {
		product.Description = *in.Description
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			fields = append(fields, "price: must not be negative")
		}
		product.Price = RoundPrice(*in.Price)
	}
	if in.Category != nil {
		product.Category = *in.Category
	}
	if in.Status != nil {
		if *in.Status != ProductStatusActive && *in.Status != ProductStatusRetired {
			fields = append(fields, "status: must be active or retired")
		}
		product.Status = *in.Status
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	product.UpdatedAt = time.Now().UTC()
	if err := uc.products.UpdateProduct(ctx, product); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return product, nil
}

// Restock adds quantity units to the product's stock.
func (uc *ProductUseCase) Restock(ctx context.Context, caller Identity, productID string, quantity int) (*Product, error) {
	ctx, span := uc.tracer.Start(ctx, "products.restock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", productID),
		attribute.Int("quantity", quantity),
	)

	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil, ErrProductNotFound
	}
	if quantity <= 0 || quantity > MaxStock {
		return nil, &ValidationError{Fields: []string{fmt.Sprintf("quantity: must be between 1 and %d", MaxStock)}}
	}

	product, err := RunInTx(ctx, uc.runner, "restock", func(ctx context.Context, tx Tx) (*Product, error) {
		current, err := uc.products.GetProductTx(ctx, tx, productID)
		if err != nil {
			return nil, err
		}
		if current.Stock > MaxStock-quantity {
			return nil, &ValidationError{Fields: []string{
				fmt.Sprintf("quantity: stock %d plus %d exceeds the maximum of %d", current.Stock, quantity, MaxStock),
			}}
		}
		if err := uc.products.IncrementStock(ctx, tx, productID, quantity); err != nil {
			return nil, err
		}
		return uc.products.GetProductTx(ctx, tx, productID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	uc.logger.Info("product restocked",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("stock", product.Stock),
	)
	return product, nil
}

func requireAdmin(caller Identity) error {
	if caller.UserID == "" {
		return ErrUnauthorized
	}
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
