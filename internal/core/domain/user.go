package domain

import "time"

type User struct {
	ID          int64
	Name        string
	Address     string
	BillingInfo string
	CreatedAt   time.Time
}
