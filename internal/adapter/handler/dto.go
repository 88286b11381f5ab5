package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/catalog/internal/core/domain"
)

// Wire types shared by the HTTP API and the JSON-coded gRPC service.

type ProductSummary struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	OwnerID     int64           `json:"owner_id"`
}

type TransactionSummary struct {
	ID        string    `json:"id"`
	BuyerID   int64     `json:"buyer_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

type UserSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	BillingInfo string `json:"billing_info,omitempty"`
}

type TagSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func toProductSummary(p domain.Product) ProductSummary {
	return ProductSummary{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Quantity:    p.Quantity,
		OwnerID:     p.OwnerID,
	}
}

func toProductSummaries(products []domain.Product) []ProductSummary {
	out := make([]ProductSummary, len(products))
	for i, p := range products {
		out[i] = toProductSummary(p)
	}
	return out
}

func toTransactionSummary(t domain.Transaction) TransactionSummary {
	return TransactionSummary{
		ID:        t.ID,
		BuyerID:   t.BuyerID,
		ProductID: t.ProductID,
		Quantity:  t.Quantity,
		CreatedAt: t.CreatedAt,
	}
}

func toUserSummary(u domain.User) UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Address: u.Address, BillingInfo: u.BillingInfo}
}

type createUserReq struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	BillingInfo string `json:"billing_info"`
}

type addProductReq struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (r addProductReq) input() domain.ProductInput {
	return domain.ProductInput{
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Quantity:    r.Quantity,
	}
}

type updateProductReq struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

func (r updateProductReq) patch() domain.ProductPatch {
	return domain.ProductPatch{Name: r.Name, Description: r.Description, Price: r.Price}
}

type updateStockReq struct {
	Quantity *int `json:"quantity"`
}

type purchaseReq struct {
	BuyerID  int64 `json:"buyer_id"`
	Quantity int   `json:"quantity"`
}

type tagProductReq struct {
	Tag string `json:"tag"`
}
