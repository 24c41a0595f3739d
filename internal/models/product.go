package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductAvailable ProductStatus = "AVAILABLE"
	ProductReserved  ProductStatus = "RESERVED"
	ProductSold      ProductStatus = "SOLD"
)

type Product struct {
	ID         string           `json:"id"`
	SellerID   string           `json:"sellerId"`
	Title      string           `json:"title"`
	Price      decimal.Decimal  `json:"price"`
	Negotiable bool             `json:"negotiable"`
	Status     ProductStatus    `json:"status"`
	BuyerID    *string          `json:"buyerId,omitempty"`
	SoldPrice  *decimal.Decimal `json:"soldPrice,omitempty"`
	SoldAt     *time.Time       `json:"soldAt,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}
