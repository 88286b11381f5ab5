package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBusy              = errors.New("resource busy")
	ErrConflict          = errors.New("conflict")
	ErrIndexUnavailable  = errors.New("search index unavailable")
)
