package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"libris/pkg/domain"
)

const migrateLockID int64 = 52740031

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&AuthorModel{},
			&CategoryModel{},
			&BookModel{},
			&BorrowTransactionModel{},
			&PenaltyModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'penalty_models'
					AND constraint_name = 'penalty_models_transaction_id_fkey'
				) THEN
					ALTER TABLE penalty_models
					ADD CONSTRAINT penalty_models_transaction_id_fkey
					FOREIGN KEY (transaction_id) REFERENCES borrow_transaction_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure penalty foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "email", "password_hash", "role", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteUser removes a user record. Loan history keeps its user_id.
func (s *GormStore) DeleteUser(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

// SaveAuthor stores or updates an author.
func (s *GormStore) SaveAuthor(a domain.Author) error {
	model := AuthorModel{ID: a.ID, Name: a.Name}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// GetAuthor retrieves an author.
func (s *GormStore) GetAuthor(id string) (domain.Author, bool, error) {
	var model AuthorModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Author{}, false, nil
		}
		return domain.Author{}, false, err
	}
	return domain.Author{ID: model.ID, Name: model.Name}, true, nil
}

// ListAuthors returns all authors ordered by name.
func (s *GormStore) ListAuthors() ([]domain.Author, error) {
	var models []AuthorModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Author, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Author{ID: m.ID, Name: m.Name})
	}
	return res, nil
}

// DeleteAuthor removes an author.
func (s *GormStore) DeleteAuthor(id string) error {
	return s.db.Delete(&AuthorModel{}, "id = ?", id).Error
}

// SaveCategory stores or updates a category.
func (s *GormStore) SaveCategory(c domain.Category) error {
	model := CategoryModel{ID: c.ID, Name: c.Name}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// GetCategory retrieves a category.
func (s *GormStore) GetCategory(id string) (domain.Category, bool, error) {
	var model CategoryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Category{}, false, nil
		}
		return domain.Category{}, false, err
	}
	return domain.Category{ID: model.ID, Name: model.Name}, true, nil
}

// ListCategories returns all categories ordered by name.
func (s *GormStore) ListCategories() ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Category, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Category{ID: m.ID, Name: m.Name})
	}
	return res, nil
}

// DeleteCategory removes a category.
func (s *GormStore) DeleteCategory(id string) error {
	return s.db.Delete(&CategoryModel{}, "id = ?", id).Error
}

type bookRow struct {
	BookModel
	AuthorName   string
	CategoryName string
	Outstanding  int
}

const bookSelect = `book_models.*,
	COALESCE(author_models.name, '') AS author_name,
	COALESCE(category_models.name, '') AS category_name,
	(SELECT COUNT(*) FROM borrow_transaction_models bt
	 WHERE bt.book_id = book_models.id AND bt.returned_at IS NULL) AS outstanding`

func (s *GormStore) bookQuery() *gorm.DB {
	return s.db.Model(&BookModel{}).
		Select(bookSelect).
		Joins("LEFT JOIN author_models ON author_models.id = book_models.author_id").
		Joins("LEFT JOIN category_models ON category_models.id = book_models.category_id")
}

func bookFromRow(r bookRow) domain.Book {
	return domain.Book{
		ID:                r.ID,
		Title:             r.Title,
		AuthorID:          r.AuthorID,
		CategoryID:        r.CategoryID,
		StockNumber:       r.StockNumber,
		YearOfPublication: r.YearOfPublication,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		AuthorName:        r.AuthorName,
		CategoryName:      r.CategoryName,
		Available:         r.StockNumber - r.Outstanding,
	}
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "author_id", "category_id", "stock_number", "year_of_publication", "updated_at"}),
	}).Create(&model).Error
}

// GetBook retrieves a book with joined names and derived availability.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var rows []bookRow
	if err := s.bookQuery().Where("book_models.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return domain.Book{}, false, err
	}
	if len(rows) == 0 {
		return domain.Book{}, false, nil
	}
	return bookFromRow(rows[0]), true, nil
}

// ListBooks returns all books ordered by title.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var rows []bookRow
	if err := s.bookQuery().Order("book_models.title ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(rows))
	for _, r := range rows {
		res = append(res, bookFromRow(r))
	}
	return res, nil
}

// DeleteBook removes a book record. Loan history keeps its book_id.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Delete(&BookModel{}, "id = ?", id).Error
}

// BookCount returns number of books.
func (s *GormStore) BookCount() (int, error) {
	var count int64
	if err := s.db.Model(&BookModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateBorrow runs the whole borrow precondition chain and the insert in
// one transaction, holding a row lock on the book so that concurrent
// borrows of the same book serialize. The check order is fixed: missing
// book, availability, duplicate hold, unpaid penalty.
func (s *GormStore) CreateBorrow(t domain.BorrowTransaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&book, "id = ?", t.BookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrBookNotFound
			}
			return err
		}
		var outstanding int64
		if err := tx.Model(&BorrowTransactionModel{}).
			Where("book_id = ? AND returned_at IS NULL", t.BookID).
			Count(&outstanding).Error; err != nil {
			return err
		}
		if int(outstanding) >= book.StockNumber {
			return domain.ErrOutOfStock
		}
		var held int64
		if err := tx.Model(&BorrowTransactionModel{}).
			Where("book_id = ? AND user_id = ? AND returned_at IS NULL", t.BookID, t.UserID).
			Count(&held).Error; err != nil {
			return err
		}
		if held > 0 {
			return domain.ErrAlreadyBorrowed
		}
		var unpaid int64
		if err := tx.Model(&PenaltyModel{}).
			Joins("JOIN borrow_transaction_models bt ON bt.id = penalty_models.transaction_id").
			Where("bt.user_id = ?", t.UserID).
			Count(&unpaid).Error; err != nil {
			return err
		}
		if unpaid > 0 {
			return domain.ErrUnpaidPenalty
		}
		model := transactionToModel(t)
		return tx.Create(&model).Error
	})
}

type transactionRow struct {
	BorrowTransactionModel
	BookTitle string
	UserName  string
}

const transactionSelect = `borrow_transaction_models.*,
	COALESCE(book_models.title, '') AS book_title,
	COALESCE(user_models.full_name, '') AS user_name`

func (s *GormStore) transactionQuery() *gorm.DB {
	return s.db.Model(&BorrowTransactionModel{}).
		Select(transactionSelect).
		Joins("LEFT JOIN book_models ON book_models.id = borrow_transaction_models.book_id").
		Joins("LEFT JOIN user_models ON user_models.id = borrow_transaction_models.user_id")
}

func transactionFromRow(r transactionRow) domain.BorrowTransaction {
	return domain.BorrowTransaction{
		ID:         r.ID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		BorrowedAt: r.BorrowedAt,
		DueAt:      r.DueAt,
		ReturnedAt: r.ReturnedAt,
		BookTitle:  r.BookTitle,
		UserName:   r.UserName,
	}
}

// GetTransaction retrieves a transaction with joined display fields.
func (s *GormStore) GetTransaction(id string) (domain.BorrowTransaction, bool, error) {
	var rows []transactionRow
	if err := s.transactionQuery().
		Where("borrow_transaction_models.id = ?", id).
		Limit(1).Scan(&rows).Error; err != nil {
		return domain.BorrowTransaction{}, false, err
	}
	if len(rows) == 0 {
		return domain.BorrowTransaction{}, false, nil
	}
	return transactionFromRow(rows[0]), true, nil
}

// ListTransactions returns all transactions, newest first.
func (s *GormStore) ListTransactions() ([]domain.BorrowTransaction, error) {
	return s.listTransactions()
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (s *GormStore) ListTransactionsByUser(userID string) ([]domain.BorrowTransaction, error) {
	return s.listTransactions("borrow_transaction_models.user_id = ?", userID)
}

func (s *GormStore) listTransactions(conds ...any) ([]domain.BorrowTransaction, error) {
	var rows []transactionRow
	tx := s.transactionQuery().Order("borrow_transaction_models.borrowed_at DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BorrowTransaction, 0, len(rows))
	for _, r := range rows {
		res = append(res, transactionFromRow(r))
	}
	return res, nil
}

// MarkReturned sets returned_at once. The IS NULL guard makes a second
// call a no-op reported as false instead of overwriting the timestamp.
func (s *GormStore) MarkReturned(id string, returnedAt time.Time) (bool, error) {
	res := s.db.Model(&BorrowTransactionModel{}).
		Where("id = ? AND returned_at IS NULL", id).
		Update("returned_at", returnedAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteTransaction removes a transaction and its penalty.
func (s *GormStore) DeleteTransaction(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PenaltyModel{}, "transaction_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BorrowTransactionModel{}, "id = ?", id).Error
	})
}

// CountOutstanding returns the number of active loans across all users.
func (s *GormStore) CountOutstanding() (int, error) {
	var count int64
	if err := s.db.Model(&BorrowTransactionModel{}).
		Where("returned_at IS NULL").
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountOutstandingByUser returns a user's active loan count.
func (s *GormStore) CountOutstandingByUser(userID string) (int, error) {
	var count int64
	if err := s.db.Model(&BorrowTransactionModel{}).
		Where("user_id = ? AND returned_at IS NULL", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

type penaltyRow struct {
	PenaltyModel
	UserID   string
	UserName string
}

const penaltySelect = `penalty_models.*,
	COALESCE(bt.user_id, '') AS user_id,
	COALESCE(u.full_name, '') AS user_name`

func (s *GormStore) penaltyQuery() *gorm.DB {
	return s.db.Model(&PenaltyModel{}).
		Select(penaltySelect).
		Joins("LEFT JOIN borrow_transaction_models bt ON bt.id = penalty_models.transaction_id").
		Joins("LEFT JOIN user_models u ON u.id = bt.user_id")
}

func penaltyFromRow(r penaltyRow) domain.Penalty {
	return domain.Penalty{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		DelayUnits:    r.DelayUnits,
		Amount:        r.Amount,
		CreatedAt:     r.CreatedAt,
		UserID:        r.UserID,
		UserName:      r.UserName,
	}
}

// CreatePenalty inserts a penalty after checking the owning transaction
// exists.
func (s *GormStore) CreatePenalty(p domain.Penalty) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BorrowTransactionModel{}).
			Where("id = ?", p.TransactionID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrTransactionNotFound
		}
		model := penaltyToModel(p)
		return tx.Create(&model).Error
	})
}

// GetPenalty retrieves a penalty with joined owner fields.
func (s *GormStore) GetPenalty(id string) (domain.Penalty, bool, error) {
	var rows []penaltyRow
	if err := s.penaltyQuery().
		Where("penalty_models.id = ?", id).
		Limit(1).Scan(&rows).Error; err != nil {
		return domain.Penalty{}, false, err
	}
	if len(rows) == 0 {
		return domain.Penalty{}, false, nil
	}
	return penaltyFromRow(rows[0]), true, nil
}

// ListPenalties returns all unpaid penalties, newest first.
func (s *GormStore) ListPenalties() ([]domain.Penalty, error) {
	return s.listPenalties()
}

// ListPenaltiesByUser returns a user's unpaid penalties, resolved through
// the owning transactions.
func (s *GormStore) ListPenaltiesByUser(userID string) ([]domain.Penalty, error) {
	return s.listPenalties("bt.user_id = ?", userID)
}

func (s *GormStore) listPenalties(conds ...any) ([]domain.Penalty, error) {
	var rows []penaltyRow
	tx := s.penaltyQuery().Order("penalty_models.created_at DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Penalty, 0, len(rows))
	for _, r := range rows {
		res = append(res, penaltyFromRow(r))
	}
	return res, nil
}

// DeletePenalty removes a penalty record.
func (s *GormStore) DeletePenalty(id string) error {
	return s.db.Delete(&PenaltyModel{}, "id = ?", id).Error
}

// HasUnpaidPenalty reports whether any penalty is linked to the user's
// transactions.
func (s *GormStore) HasUnpaidPenalty(userID string) (bool, error) {
	var count int64
	if err := s.db.Model(&PenaltyModel{}).
		Joins("JOIN borrow_transaction_models bt ON bt.id = penalty_models.transaction_id").
		Where("bt.user_id = ?", userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// TotalPenaltyAmount sums all unpaid penalty amounts.
func (s *GormStore) TotalPenaltyAmount() (float64, error) {
	var total sql.NullFloat64
	if err := s.db.Model(&PenaltyModel{}).
		Select("SUM(amount)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// UserPenaltyTotal sums one user's unpaid penalty amounts.
func (s *GormStore) UserPenaltyTotal(userID string) (float64, error) {
	var total sql.NullFloat64
	if err := s.db.Model(&PenaltyModel{}).
		Select("SUM(penalty_models.amount)").
		Joins("JOIN borrow_transaction_models bt ON bt.id = penalty_models.transaction_id").
		Where("bt.user_id = ?", userID).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total.Float64, nil
}
