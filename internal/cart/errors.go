package cart

import "errors"

var (
	// ErrInvalidArgument is returned when a mutation receives malformed input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLineNotFound is returned by UpdateQuantity when no line matches (product, size)
	ErrLineNotFound = errors.New("cart line not found")
)
