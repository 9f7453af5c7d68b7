package packet

import "github.com/pkg/errors"

var (
	ErrNotFound      = errors.New("packet not found")
	ErrConflict      = errors.New("packet was modified concurrently")
	ErrBarcodeExists = errors.New("barcode already exists")

	errBarcodeExhausted = errors.New("could not generate a unique barcode")
)

// IsInvalidTransition reports whether err (or its cause) is an *InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	_, ok := errors.Cause(err).(*InvalidTransitionError)
	return ok
}
