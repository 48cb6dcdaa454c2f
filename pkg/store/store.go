package store

import (
	"time"

	"libris/pkg/domain"
)

// Store defines persistence for catalog entities and both ledgers.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)
	DeleteUser(id string) error

	// authors
	SaveAuthor(domain.Author) error
	GetAuthor(id string) (domain.Author, bool, error)
	ListAuthors() ([]domain.Author, error)
	DeleteAuthor(id string) error

	// categories
	SaveCategory(domain.Category) error
	GetCategory(id string) (domain.Category, bool, error)
	ListCategories() ([]domain.Category, error)
	DeleteCategory(id string) error

	// books
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	DeleteBook(id string) error
	BookCount() (int, error)

	BorrowLedger
	PenaltyLedger
}

// BorrowLedger persists borrow transactions.
type BorrowLedger interface {
	// CreateBorrow checks, in order, that the book exists, a copy is
	// available, the user does not already hold the book, and the user
	// has no unpaid penalty; the first failing check wins. Checks and
	// insert run under one scope serialized per book, so two concurrent
	// calls for the last copy must not both succeed. Failures surface
	// the domain sentinels.
	CreateBorrow(tx domain.BorrowTransaction) error
	GetTransaction(id string) (domain.BorrowTransaction, bool, error)
	ListTransactions() ([]domain.BorrowTransaction, error)
	ListTransactionsByUser(userID string) ([]domain.BorrowTransaction, error)
	// MarkReturned sets the return time if and only if it is not set yet.
	// It reports false when the transaction was already returned, so a
	// lost double-return race is detected rather than overwritten.
	MarkReturned(id string, returnedAt time.Time) (bool, error)
	// DeleteTransaction removes a transaction and cascades to its penalty.
	DeleteTransaction(id string) error
	CountOutstanding() (int, error)
	CountOutstandingByUser(userID string) (int, error)
}

// PenaltyLedger persists late-return penalties. A penalty has no user
// column of its own; user scoping always joins through the owning
// transaction.
type PenaltyLedger interface {
	CreatePenalty(p domain.Penalty) error
	GetPenalty(id string) (domain.Penalty, bool, error)
	ListPenalties() ([]domain.Penalty, error)
	ListPenaltiesByUser(userID string) ([]domain.Penalty, error)
	DeletePenalty(id string) error
	HasUnpaidPenalty(userID string) (bool, error)
	TotalPenaltyAmount() (float64, error)
	UserPenaltyTotal(userID string) (float64, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
