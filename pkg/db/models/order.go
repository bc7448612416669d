package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderpay-backend/pkg/enums"
)

// ExternalTransactionIDNone is the sentinel stored until the gateway assigns
// a transaction id.
const ExternalTransactionIDNone = "N/A"

// Order is the purchase aggregate. StockReserved/StockRestored guard the
// ledger against double decrements and replayed compensation.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Status                enums.OrderStatus `gorm:"column:status;type:text;not null;default:'PENDING'" json:"status"`
	Amount                decimal.Decimal   `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Currency              enums.Currency    `gorm:"column:currency;type:text;not null;default:'COP'" json:"currency"`
	ExternalTransactionID string            `gorm:"column:external_transaction_id;not null;default:'N/A'" json:"externalTransactionId"`
	StockReserved         bool              `gorm:"column:stock_reserved;not null;default:false" json:"-"`
	StockRestored         bool              `gorm:"column:stock_restored;not null;default:false" json:"-"`
	CustomerID            *uuid.UUID        `gorm:"column:customer_id;type:uuid" json:"-"`
	Customer              *Customer         `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	LineItems             []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"lineItems"`
	Deliveries            []Delivery        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"deliveries,omitempty"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// Reference returns the provider-facing reference derived from the order id.
func (o *Order) Reference() string {
	return "ref_" + o.ID.String()
}
