package domain

import "time"

// Transaction records a committed purchase. It is created in the same atomic
// unit as the stock decrement it accounts for and never changes afterwards.
type Transaction struct {
	ID        string
	BuyerID   int64
	ProductID int64
	Quantity  int
	CreatedAt time.Time
}
