package domain

type Tag struct {
	ID   int64
	Name string
}

type ProductTag struct {
	ProductID int64
	TagID     int64
}
