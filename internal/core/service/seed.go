package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/obs"
)

type demoProduct struct {
	name        string
	description string
	price       string
	quantity    int
	owner       int // index into demo users
	tags        []string
}

var demoUsers = []domain.User{
	{Name: "Alice", Address: "123 Main St", BillingInfo: "Visa 1234"},
	{Name: "Bob", Address: "456 Elm St", BillingInfo: "Mastercard 5678"},
}

var demoProducts = []demoProduct{
	{"Sweater", "Warm and cozy", "29.99", 10, 0, []string{"Winter", "Clothing"}},
	{"Scarf", "Stylish and warm", "19.99", 15, 0, []string{"Winter", "Clothing"}},
	{"Beanie", "Warm and stylish", "14.99", 25, 0, []string{"Clothing"}},
	{"Jacket", "Waterproof and warm", "99.99", 5, 1, []string{"Outerwear"}},
}

var demoPurchases = []struct {
	buyer    int
	product  int
	quantity int
}{
	{0, 0, 1},
	{0, 1, 2},
	{1, 2, 5},
}

// SeedDemo loads a small winter-clothing catalog. Purchases go through
// Purchase, so the seeded stock already reflects them.
func (s *CatalogService) SeedDemo(ctx context.Context) error {
	users := make([]domain.User, len(demoUsers))
	for i, u := range demoUsers {
		users[i] = u
		if err := s.RegisterUser(ctx, &users[i]); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Name, err)
		}
	}

	products := make([]*domain.Product, len(demoProducts))
	for i, dp := range demoProducts {
		p, err := s.AddProduct(ctx, users[dp.owner].ID, domain.ProductInput{
			Name:        dp.name,
			Description: dp.description,
			Price:       decimal.RequireFromString(dp.price),
			Quantity:    dp.quantity,
		})
		if err != nil {
			return fmt.Errorf("seed product %s: %w", dp.name, err)
		}
		products[i] = p

		for _, tag := range dp.tags {
			if _, err := s.TagProduct(ctx, p.ID, tag); err != nil {
				return fmt.Errorf("seed tag %s on %s: %w", tag, dp.name, err)
			}
		}
	}

	for _, dp := range demoPurchases {
		if _, err := s.Purchase(ctx, products[dp.product].ID, users[dp.buyer].ID, dp.quantity); err != nil {
			return fmt.Errorf("seed purchase: %w", err)
		}
	}

	obs.Logger.Info("demo catalog seeded", "users", len(users), "products", len(products))
	return nil
}
