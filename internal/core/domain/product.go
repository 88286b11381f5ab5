package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	OwnerID     int64
	Version     int // bumped on every write
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document returns the searchable projection of the product.
func (p Product) Document() SearchDocument {
	return SearchDocument{ID: p.ID, Name: p.Name, Description: p.Description}
}

// Column limits of the products table: price is DECIMAL(10,2) and quantity
// a signed INT.
const (
	MaxQuantity = math.MaxInt32
	PriceScale  = 2
)

// PriceLimit is the smallest price DECIMAL(10,2) cannot hold.
var PriceLimit = decimal.New(1, 8)

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if !price.Equal(price.Truncate(PriceScale)) {
		return fmt.Errorf("%w: price must have at most %d decimal places", ErrValidation, PriceScale)
	}
	if price.GreaterThanOrEqual(PriceLimit) {
		return fmt.Errorf("%w: price must be below %s", ErrValidation, PriceLimit)
	}
	return nil
}

// ValidateQuantity checks a stock level or purchase amount against the
// column range.
func ValidateQuantity(quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}
	if quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity must not exceed %d", ErrValidation, MaxQuantity)
	}
	return nil
}

// ProductInput carries the fields required to list a new product.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
}

func (in ProductInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: product name and description must not be empty", ErrValidation)
	}
	if err := validatePrice(in.Price); err != nil {
		return err
	}
	return ValidateQuantity(in.Quantity)
}

// ProductPatch updates the descriptive fields of a product. Nil fields are
// left untouched.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
}

func (p ProductPatch) Validate() error {
	if p.Name == nil && p.Description == nil && p.Price == nil {
		return fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: product name must not be empty", ErrValidation)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return fmt.Errorf("%w: product description must not be empty", ErrValidation)
	}
	if p.Price != nil {
		return validatePrice(*p.Price)
	}
	return nil
}

// Apply copies the patched fields onto product.
func (p ProductPatch) Apply(product *Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
}

// SearchDocument is the index-side view of a product. It is not
// authoritative and may lag the catalog.
type SearchDocument struct {
	ID          int64
	Name        string
	Description string
}
