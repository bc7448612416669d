package orders

import "github.com/google/uuid"

// CreateOrderInput is the checkout request body. Card data passes through to
// the gateway tokenizer and is never persisted.
type CreateOrderInput struct {
	Items    []LineItemInput `json:"items" validate:"required,min=1,dive"`
	Card     CardInput       `json:"card" validate:"required"`
	Delivery DeliveryInput   `json:"delivery" validate:"required"`
}

type LineItemInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Qty       int       `json:"qty" validate:"required,gt=0"`
}

type CardInput struct {
	Number     string `json:"number" validate:"required,numeric,min=13,max=19"`
	CVC        string `json:"cvc" validate:"required,numeric,min=3,max=4"`
	ExpMonth   string `json:"expMonth" validate:"required,len=2,numeric"`
	ExpYear    string `json:"expYear" validate:"required,len=2,numeric"`
	CardHolder string `json:"cardHolder" validate:"required"`
}

type DeliveryInput struct {
	Address  string        `json:"address" validate:"required"`
	City     string        `json:"city" validate:"required"`
	Country  string        `json:"country" validate:"required"`
	Customer CustomerInput `json:"customer" validate:"required"`
}

type CustomerInput struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone"`
}
