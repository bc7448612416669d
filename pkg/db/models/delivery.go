package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery records where each line item ships, one row per line item.
type Delivery struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID  `gorm:"column:order_id;type:uuid;not null" json:"-"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	CustomerID *uuid.UUID `gorm:"column:customer_id;type:uuid" json:"-"`
	Address    string     `gorm:"column:address;not null" json:"address"`
	City       string     `gorm:"column:city;not null" json:"city"`
	Country    string     `gorm:"column:country;not null" json:"country"`
	Qty        int        `gorm:"column:qty;not null;default:1" json:"qty"`
	Product    *Product   `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Customer   *Customer  `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
