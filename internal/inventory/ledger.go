package inventory

import (
	"context"

	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderpay-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationRequest asks for qty units of one product.
type ReservationRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// Reserve decrements stock for one product only if enough is available. The
// availability check and the decrement are a single UPDATE, so concurrent
// reservations against the same product cannot oversell.
func Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "reservation quantity must be positive")
	}

	result := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "reserve stock")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{"product_id": productID, "requested": qty})
	}
	return nil
}

// Release returns qty units of stock, reversing a prior reservation.
func Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "release quantity must be positive")
	}

	result := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "release stock")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeProductNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID})
	}
	return nil
}

// ReserveAll reserves every request or none: the caller is expected to run it
// inside a transaction so a failed line rolls back the earlier ones.
func ReserveAll(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	for _, req := range requests {
		if err := Reserve(ctx, tx, req.ProductID, req.Qty); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseAll increments stock for every request.
func ReleaseAll(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	for _, req := range requests {
		if err := Release(ctx, tx, req.ProductID, req.Qty); err != nil {
			return err
		}
	}
	return nil
}
