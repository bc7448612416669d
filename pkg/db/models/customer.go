package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a denormalized snapshot captured at order time. Rows are not
// deduplicated against earlier orders.
type Customer struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	FullName  string    `gorm:"column:full_name;not null" json:"fullName"`
	Email     string    `gorm:"column:email;not null" json:"email"`
	Phone     string    `gorm:"column:phone" json:"phone"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
