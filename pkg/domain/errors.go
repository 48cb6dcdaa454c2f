package domain

import "errors"

// Domain rule violations. These are expected outcomes returned to callers,
// never crashes; the HTTP layer maps them to status codes and the lending
// engine uses them to drive its precondition chain.
var (
	ErrBookNotFound        = errors.New("book not found")
	ErrOutOfStock          = errors.New("no available copies")
	ErrAlreadyBorrowed     = errors.New("book already borrowed by this user")
	ErrUnpaidPenalty       = errors.New("borrowing blocked by unpaid penalty")
	ErrTransactionNotFound = errors.New("borrow transaction not found")
	ErrPenaltyNotFound     = errors.New("penalty not found")
	ErrNotOwner            = errors.New("caller does not own this record")
	ErrAlreadyReturned     = errors.New("book already returned")
)
