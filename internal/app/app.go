// Package app wires the stores, session backend, and lending engine into
// the application service consumed by the HTTP layer.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"libris/pkg/auth"
	"libris/pkg/domain"
	"libris/pkg/lending"
	"libris/pkg/store"
)

// Config holds runtime configuration for the application core.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	SessionTTL    time.Duration
	Policy        lending.Policy

	// Store and Sessions override the defaults; tests inject the
	// in-memory implementations here.
	Store    store.Store
	Sessions store.SessionStore
}

// App is the application service: auth, catalog administration, stats,
// and access to the lending engine.
type App struct {
	store    store.Store
	sessions store.SessionStore
	engine   *lending.Engine
}

// New constructs the application and its lending engine.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore = gs
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch {
		case cfg.JWTSecret != "":
			sessionStore = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
		case cfg.RedisAddr != "":
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("session store required (jwtSecret or redisAddr)")
		}
	}

	policy := cfg.Policy
	if policy.LoanDuration == 0 {
		policy = lending.DefaultPolicy()
	}

	return &App{
		store:    dataStore,
		sessions: sessionStore,
		engine:   lending.NewEngine(dataStore, policy),
	}, nil
}

// Lending exposes the lending engine.
func (a *App) Lending() *lending.Engine {
	return a.engine
}

// Register creates a user account and issues a session token. The first
// registered user becomes the administrator.
func (a *App) Register(fullName, email, password string) (domain.User, string, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(strings.ToLower(email))
	if fullName == "" || email == "" || password == "" {
		return domain.User{}, "", fmt.Errorf("%w: full name, email and password required", ErrInvalidInput)
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailTaken
	}
	role := domain.RoleMember
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout removes a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// CreateBook adds a catalog entry.
func (a *App) CreateBook(title, authorID, categoryID string, stock, year int) (domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Book{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if stock < 0 {
		return domain.Book{}, fmt.Errorf("%w: stock must be >= 0", ErrInvalidInput)
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:                uuid.NewString(),
		Title:             title,
		AuthorID:          authorID,
		CategoryID:        categoryID,
		StockNumber:       stock,
		YearOfPublication: year,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBook replaces a book's catalog fields.
func (a *App) UpdateBook(id, title, authorID, categoryID string, stock, year int) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Book{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if stock < 0 {
		return domain.Book{}, fmt.Errorf("%w: stock must be >= 0", ErrInvalidInput)
	}
	book.Title = title
	book.AuthorID = authorID
	book.CategoryID = categoryID
	book.StockNumber = stock
	book.YearOfPublication = year
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// GetBook fetches one book.
func (a *App) GetBook(id string) (domain.Book, bool, error) {
	return a.store.GetBook(id)
}

// ListBooks lists the catalog.
func (a *App) ListBooks() ([]domain.Book, error) {
	return a.store.ListBooks()
}

// DeleteBook removes a catalog entry.
func (a *App) DeleteBook(id string) error {
	_, ok, err := a.store.GetBook(id)
	if err != nil {
		return fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.ErrBookNotFound
	}
	return a.store.DeleteBook(id)
}

// SaveAuthor creates or renames an author.
func (a *App) SaveAuthor(id, name string) (domain.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Author{}, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if id == "" {
		id = uuid.NewString()
	}
	author := domain.Author{ID: id, Name: name}
	if err := a.store.SaveAuthor(author); err != nil {
		return domain.Author{}, fmt.Errorf("save author: %w", err)
	}
	return author, nil
}

// GetAuthor fetches one author.
func (a *App) GetAuthor(id string) (domain.Author, bool, error) {
	return a.store.GetAuthor(id)
}

// ListAuthors lists all authors.
func (a *App) ListAuthors() ([]domain.Author, error) {
	return a.store.ListAuthors()
}

// DeleteAuthor removes an author.
func (a *App) DeleteAuthor(id string) error {
	return a.store.DeleteAuthor(id)
}

// SaveCategory creates or renames a category.
func (a *App) SaveCategory(id, name string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if id == "" {
		id = uuid.NewString()
	}
	category := domain.Category{ID: id, Name: name}
	if err := a.store.SaveCategory(category); err != nil {
		return domain.Category{}, fmt.Errorf("save category: %w", err)
	}
	return category, nil
}

// GetCategory fetches one category.
func (a *App) GetCategory(id string) (domain.Category, bool, error) {
	return a.store.GetCategory(id)
}

// ListCategories lists all categories.
func (a *App) ListCategories() ([]domain.Category, error) {
	return a.store.ListCategories()
}

// DeleteCategory removes a category.
func (a *App) DeleteCategory(id string) error {
	return a.store.DeleteCategory(id)
}

// ListUsers lists all user accounts.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// GetUser fetches one user account.
func (a *App) GetUser(id string) (domain.User, bool, error) {
	return a.store.GetUserByID(id)
}

// UpdateUser changes a user's profile fields and role.
func (a *App) UpdateUser(id, fullName, email string, role domain.UserRole) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(strings.ToLower(email))
	if fullName == "" || email == "" {
		return domain.User{}, fmt.Errorf("%w: full name and email required", ErrInvalidInput)
	}
	if role != domain.RoleMember && role != domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	user.FullName = fullName
	user.Email = email
	user.Role = role
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user account.
func (a *App) DeleteUser(id string) error {
	_, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return a.store.DeleteUser(id)
}

// AdminStats summarizes the system for the admin dashboard.
type AdminStats struct {
	TotalBooks     int     `json:"totalBooks"`
	TotalUsers     int     `json:"totalUsers"`
	ActiveBorrows  int     `json:"activeBorrows"`
	TotalPenalties float64 `json:"totalPenalties"`
}

// UserStats summarizes one member's activity.
type UserStats struct {
	ActiveBorrows     int     `json:"activeBorrows"`
	TotalTransactions int     `json:"totalTransactions"`
	TotalPenalties    float64 `json:"totalPenalties"`
}

// Stats computes the admin dashboard numbers.
func (a *App) Stats() (AdminStats, error) {
	books, err := a.store.BookCount()
	if err != nil {
		return AdminStats{}, fmt.Errorf("count books: %w", err)
	}
	users, err := a.store.UserCount()
	if err != nil {
		return AdminStats{}, fmt.Errorf("count users: %w", err)
	}
	active, err := a.engine.ActiveLoanCount()
	if err != nil {
		return AdminStats{}, fmt.Errorf("count active loans: %w", err)
	}
	penalties, err := a.engine.TotalPenaltyAmount()
	if err != nil {
		return AdminStats{}, fmt.Errorf("sum penalties: %w", err)
	}
	return AdminStats{
		TotalBooks:     books,
		TotalUsers:     users,
		ActiveBorrows:  active,
		TotalPenalties: penalties,
	}, nil
}

// StatsForUser computes one member's numbers.
func (a *App) StatsForUser(userID string) (UserStats, error) {
	active, err := a.engine.ActiveLoanCountForUser(userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("count active loans: %w", err)
	}
	transactions, err := a.engine.TransactionsForUser(userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("list transactions: %w", err)
	}
	penalties, err := a.engine.UserPenaltyTotal(userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("sum penalties: %w", err)
	}
	return UserStats{
		ActiveBorrows:     active,
		TotalTransactions: len(transactions),
		TotalPenalties:    penalties,
	}, nil
}
