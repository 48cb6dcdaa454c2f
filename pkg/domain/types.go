package domain

import "time"

type UserRole string

const (
	RoleMember UserRole = "member"
	RoleAdmin  UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Book struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	AuthorID          string    `json:"authorId"`
	CategoryID        string    `json:"categoryId"`
	StockNumber       int       `json:"stockNumber"`
	YearOfPublication int       `json:"yearOfPublication"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	// Joined display fields, filled on reads.
	AuthorName   string `json:"authorName,omitempty"`
	CategoryName string `json:"categoryName,omitempty"`
	// Available is StockNumber minus outstanding loans. Always derived
	// from the ledger, never persisted as a counter.
	Available int `json:"available"`
}

// BorrowTransaction is one loan of one book copy to one user.
// ReturnedAt is nil while the loan is outstanding and is set exactly once.
type BorrowTransaction struct {
	ID         string     `json:"id"`
	BookID     string     `json:"bookId"`
	UserID     string     `json:"userId"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	DueAt      time.Time  `json:"dueAt"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`

	BookTitle string `json:"bookTitle,omitempty"`
	UserName  string `json:"userName,omitempty"`
}

// Outstanding reports whether the book has not been returned yet.
func (t BorrowTransaction) Outstanding() bool {
	return t.ReturnedAt == nil
}

// Penalty is a late-return charge. A penalty record existing means it is
// unpaid; payment removes the record.
type Penalty struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"borrowTransactionId"`
	DelayUnits    int       `json:"delayUnits"`
	Amount        float64   `json:"amount"`
	CreatedAt     time.Time `json:"createdAt"`

	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}
