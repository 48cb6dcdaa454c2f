package store

import (
	"time"

	"libris/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	FullName     string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type AuthorModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

type CategoryModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

type BookModel struct {
	ID                string `gorm:"primaryKey"`
	Title             string `gorm:"not null"`
	AuthorID          string `gorm:"index"`
	CategoryID        string `gorm:"index"`
	StockNumber       int    `gorm:"not null"`
	YearOfPublication int
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time
}

type BorrowTransactionModel struct {
	ID         string     `gorm:"primaryKey"`
	BookID     string     `gorm:"not null;index"`
	UserID     string     `gorm:"not null;index"`
	BorrowedAt time.Time  `gorm:"not null"`
	DueAt      time.Time  `gorm:"not null"`
	ReturnedAt *time.Time `gorm:"index"`
}

type PenaltyModel struct {
	ID            string    `gorm:"primaryKey"`
	TransactionID string    `gorm:"uniqueIndex;not null"`
	DelayUnits    int       `gorm:"not null"`
	Amount        float64   `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		FullName:     u.FullName,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		FullName:     m.FullName,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:                b.ID,
		Title:             b.Title,
		AuthorID:          b.AuthorID,
		CategoryID:        b.CategoryID,
		StockNumber:       b.StockNumber,
		YearOfPublication: b.YearOfPublication,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func transactionToModel(t domain.BorrowTransaction) BorrowTransactionModel {
	return BorrowTransactionModel{
		ID:         t.ID,
		BookID:     t.BookID,
		UserID:     t.UserID,
		BorrowedAt: t.BorrowedAt,
		DueAt:      t.DueAt,
		ReturnedAt: t.ReturnedAt,
	}
}

func penaltyToModel(p domain.Penalty) PenaltyModel {
	return PenaltyModel{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		DelayUnits:    p.DelayUnits,
		Amount:        p.Amount,
		CreatedAt:     p.CreatedAt,
	}
}
