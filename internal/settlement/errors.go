package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart                     = errors.New("cart is empty")
	ErrInvalidTotal                  = errors.New("cart line has a non-positive price or quantity")
	ErrPersistenceExhausted          = errors.New("order could not be persisted within the retry budget")
	ErrConsistencyVerificationFailed = errors.New("persisted order does not match the cart")
	ErrOrderIDTaken                  = errors.New("order id belongs to another customer")
)

// errConcurrentInsert is returned when another commit inserted the same order
// id between the existence check and the insert. The next attempt replays it.
var errConcurrentInsert = errors.New("order inserted concurrently")

// verificationError describes what the post-write read back disagreed on.
type verificationError struct {
	field string
	want  string
	got   string
}

func (e *verificationError) Error() string {
	return fmt.Sprintf("verification of %s failed: want %s, got %s", e.field, e.want, e.got)
}
