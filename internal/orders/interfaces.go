package orders

import (
	"context"

	"github.com/angelmondragon/orderpay-backend/internal/inventory"
	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	"github.com/angelmondragon/orderpay-backend/pkg/wompi"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists order aggregates. Mutating methods accept the enclosing
// transaction; a nil tx falls back to the shared connection.
type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
}

// Gateway is the synchronous surface of the card-payment provider.
type Gateway interface {
	TokenizeCard(ctx context.Context, card wompi.Card) (string, error)
	Charge(ctx context.Context, req wompi.ChargeRequest) (*wompi.ChargeResult, error)
	Currency() string
}

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Ledger moves catalog stock in and out of reservation.
type Ledger interface {
	ReserveAll(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) error
	ReleaseAll(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) error
}

// Notifier reports order outcomes to the customer. Implementations must not
// block or fail the checkout.
type Notifier interface {
	OrderApproved(ctx context.Context, order *models.Order)
	OrderDeclined(ctx context.Context, order *models.Order)
}

type gormLedger struct{}

// NewLedger returns the stock ledger backed by conditional updates.
func NewLedger() Ledger {
	return gormLedger{}
}

func (gormLedger) ReserveAll(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) error {
	return inventory.ReserveAll(ctx, tx, requests)
}

func (gormLedger) ReleaseAll(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) error {
	return inventory.ReleaseAll(ctx, tx, requests)
}
