package store

import (
	"sort"
	"sync"
	"time"

	"libris/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local
// development; the single mutex gives it the same per-book serialization
// the Postgres store gets from row locks.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	emails     map[string]string // email -> user ID
	authors    map[string]domain.Author
	categories map[string]domain.Category
	books      map[string]domain.Book
	loans      map[string]domain.BorrowTransaction
	penalties  map[string]domain.Penalty
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		emails:     make(map[string]string),
		authors:    make(map[string]domain.Author),
		categories: make(map[string]domain.Category),
		books:      make(map[string]domain.Book),
		loans:      make(map[string]domain.BorrowTransaction),
		penalties:  make(map[string]domain.Penalty),
	}
}

// SaveUser stores or replaces a user record.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[u.ID]; ok && old.Email != u.Email {
		delete(m.emails, old.Email)
	}
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// DeleteUser removes a user record.
func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		delete(m.emails, u.Email)
		delete(m.users, id)
	}
	return nil
}

// SaveAuthor stores or replaces an author.
func (m *MemoryStore) SaveAuthor(a domain.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authors[a.ID] = a
	return nil
}

// GetAuthor retrieves an author.
func (m *MemoryStore) GetAuthor(id string) (domain.Author, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.authors[id]
	return a, ok, nil
}

// ListAuthors returns authors ordered by name.
func (m *MemoryStore) ListAuthors() ([]domain.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Author, 0, len(m.authors))
	for _, a := range m.authors {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// DeleteAuthor removes an author.
func (m *MemoryStore) DeleteAuthor(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.authors, id)
	return nil
}

// SaveCategory stores or replaces a category.
func (m *MemoryStore) SaveCategory(c domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

// GetCategory retrieves a category.
func (m *MemoryStore) GetCategory(id string) (domain.Category, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	return c, ok, nil
}

// ListCategories returns categories ordered by name.
func (m *MemoryStore) ListCategories() ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// DeleteCategory removes a category.
func (m *MemoryStore) DeleteCategory(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.categories, id)
	return nil
}

// SaveBook stores or replaces a book record.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book with joined names and derived availability.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	return m.decorateBook(b), true, nil
}

// ListBooks returns books ordered by title.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, m.decorateBook(b))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Title < res[j].Title })
	return res, nil
}

// DeleteBook removes a book record.
func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	return nil
}

// BookCount returns number of books.
func (m *MemoryStore) BookCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books), nil
}

// callers must hold at least a read lock
func (m *MemoryStore) decorateBook(b domain.Book) domain.Book {
	if a, ok := m.authors[b.AuthorID]; ok {
		b.AuthorName = a.Name
	}
	if c, ok := m.categories[b.CategoryID]; ok {
		b.CategoryName = c.Name
	}
	b.Available = b.StockNumber - m.outstandingByBookLocked(b.ID)
	return b
}

func (m *MemoryStore) outstandingByBookLocked(bookID string) int {
	count := 0
	for _, l := range m.loans {
		if l.BookID == bookID && l.Outstanding() {
			count++
		}
	}
	return count
}

// CreateBorrow runs the borrow precondition chain and the insert under
// the store mutex, mirroring the row-locked routine of the Postgres
// store.
func (m *MemoryStore) CreateBorrow(t domain.BorrowTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[t.BookID]
	if !ok {
		return domain.ErrBookNotFound
	}
	if m.outstandingByBookLocked(t.BookID) >= book.StockNumber {
		return domain.ErrOutOfStock
	}
	for _, l := range m.loans {
		if l.BookID == t.BookID && l.UserID == t.UserID && l.Outstanding() {
			return domain.ErrAlreadyBorrowed
		}
	}
	for _, p := range m.penalties {
		if l, ok := m.loans[p.TransactionID]; ok && l.UserID == t.UserID {
			return domain.ErrUnpaidPenalty
		}
	}
	m.loans[t.ID] = t
	return nil
}

// GetTransaction retrieves a transaction with joined display fields.
func (m *MemoryStore) GetTransaction(id string) (domain.BorrowTransaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return domain.BorrowTransaction{}, false, nil
	}
	return m.decorateTransaction(l), true, nil
}

// ListTransactions returns all transactions, newest first.
func (m *MemoryStore) ListTransactions() ([]domain.BorrowTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(func(domain.BorrowTransaction) bool { return true }), nil
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (m *MemoryStore) ListTransactionsByUser(userID string) ([]domain.BorrowTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(func(l domain.BorrowTransaction) bool { return l.UserID == userID }), nil
}

func (m *MemoryStore) listTransactionsLocked(keep func(domain.BorrowTransaction) bool) []domain.BorrowTransaction {
	res := make([]domain.BorrowTransaction, 0, len(m.loans))
	for _, l := range m.loans {
		if keep(l) {
			res = append(res, m.decorateTransaction(l))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BorrowedAt.After(res[j].BorrowedAt) })
	return res
}

func (m *MemoryStore) decorateTransaction(l domain.BorrowTransaction) domain.BorrowTransaction {
	if b, ok := m.books[l.BookID]; ok {
		l.BookTitle = b.Title
	}
	if u, ok := m.users[l.UserID]; ok {
		l.UserName = u.FullName
	}
	return l
}

// MarkReturned sets the return time exactly once.
func (m *MemoryStore) MarkReturned(id string, returnedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok || l.ReturnedAt != nil {
		return false, nil
	}
	l.ReturnedAt = &returnedAt
	m.loans[id] = l
	return true, nil
}

// DeleteTransaction removes a transaction and its penalty.
func (m *MemoryStore) DeleteTransaction(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, p := range m.penalties {
		if p.TransactionID == id {
			delete(m.penalties, pid)
		}
	}
	delete(m.loans, id)
	return nil
}

// CountOutstanding returns the number of active loans across all users.
func (m *MemoryStore) CountOutstanding() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, l := range m.loans {
		if l.Outstanding() {
			count++
		}
	}
	return count, nil
}

// CountOutstandingByUser returns a user's active loan count.
func (m *MemoryStore) CountOutstandingByUser(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, l := range m.loans {
		if l.UserID == userID && l.Outstanding() {
			count++
		}
	}
	return count, nil
}

// CreatePenalty inserts a penalty after checking the owning transaction
// exists.
func (m *MemoryStore) CreatePenalty(p domain.Penalty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[p.TransactionID]; !ok {
		return domain.ErrTransactionNotFound
	}
	m.penalties[p.ID] = p
	return nil
}

// GetPenalty retrieves a penalty with joined owner fields.
func (m *MemoryStore) GetPenalty(id string) (domain.Penalty, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.penalties[id]
	if !ok {
		return domain.Penalty{}, false, nil
	}
	return m.decoratePenalty(p), true, nil
}

// ListPenalties returns all unpaid penalties, newest first.
func (m *MemoryStore) ListPenalties() ([]domain.Penalty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPenaltiesLocked(func(domain.Penalty) bool { return true }), nil
}

// ListPenaltiesByUser returns a user's unpaid penalties.
func (m *MemoryStore) ListPenaltiesByUser(userID string) ([]domain.Penalty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPenaltiesLocked(func(p domain.Penalty) bool {
		l, ok := m.loans[p.TransactionID]
		return ok && l.UserID == userID
	}), nil
}

func (m *MemoryStore) listPenaltiesLocked(keep func(domain.Penalty) bool) []domain.Penalty {
	res := make([]domain.Penalty, 0, len(m.penalties))
	for _, p := range m.penalties {
		if keep(p) {
			res = append(res, m.decoratePenalty(p))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

func (m *MemoryStore) decoratePenalty(p domain.Penalty) domain.Penalty {
	if l, ok := m.loans[p.TransactionID]; ok {
		p.UserID = l.UserID
		if u, ok := m.users[l.UserID]; ok {
			p.UserName = u.FullName
		}
	}
	return p
}

// DeletePenalty removes a penalty record.
func (m *MemoryStore) DeletePenalty(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.penalties, id)
	return nil
}

// HasUnpaidPenalty reports whether any penalty is linked to the user's
// transactions.
func (m *MemoryStore) HasUnpaidPenalty(userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.penalties {
		if l, ok := m.loans[p.TransactionID]; ok && l.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// TotalPenaltyAmount sums all unpaid penalty amounts.
func (m *MemoryStore) TotalPenaltyAmount() (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.penalties {
		total += p.Amount
	}
	return total, nil
}

// UserPenaltyTotal sums one user's unpaid penalty amounts.
func (m *MemoryStore) UserPenaltyTotal(userID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.penalties {
		if l, ok := m.loans[p.TransactionID]; ok && l.UserID == userID {
			total += p.Amount
		}
	}
	return total, nil
}
