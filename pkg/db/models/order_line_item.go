package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLineItem snapshots a product at order time. The unit price is captured
// here and never re-read from the catalog.
type OrderLineItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null" json:"-"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	Name      string          `gorm:"column:name;not null" json:"name"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null" json:"unitPrice"`
	Qty       int             `gorm:"column:qty;not null" json:"qty"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(14,2);not null" json:"total"`
	Product   *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
