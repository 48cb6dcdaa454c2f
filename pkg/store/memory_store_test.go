package store

import (
	"errors"
	"testing"
	"time"

	"libris/pkg/domain"
)

func seedCatalog(t *testing.T, m *MemoryStore, stock int) {
	t.Helper()
	if err := m.SaveUser(domain.User{ID: "user-1", FullName: "Ada Lovelace", Email: "ada@example.com", Role: domain.RoleMember}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := m.SaveUser(domain.User{ID: "user-2", FullName: "Mary Shelley", Email: "mary@example.com", Role: domain.RoleMember}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := m.SaveAuthor(domain.Author{ID: "author-1", Name: "Frank Herbert"}); err != nil {
		t.Fatalf("save author: %v", err)
	}
	if err := m.SaveCategory(domain.Category{ID: "cat-1", Name: "Science Fiction"}); err != nil {
		t.Fatalf("save category: %v", err)
	}
	if err := m.SaveBook(domain.Book{ID: "book-1", Title: "Dune", AuthorID: "author-1", CategoryID: "cat-1", StockNumber: stock}); err != nil {
		t.Fatalf("save book: %v", err)
	}
}

func borrowAt(id, userID, bookID string, at time.Time) domain.BorrowTransaction {
	return domain.BorrowTransaction{
		ID:         id,
		BookID:     bookID,
		UserID:     userID,
		BorrowedAt: at,
		DueAt:      at.Add(time.Minute),
	}
}

func TestMemoryStoreBookJoins(t *testing.T) {
	m := NewMemoryStore()
	seedCatalog(t, m, 2)

	book, ok, err := m.GetBook("book-1")
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if book.AuthorName != "Frank Herbert" {
		t.Fatalf("author name = %q, want Frank Herbert", book.AuthorName)
	}
	if book.CategoryName != "Science Fiction" {
		t.Fatalf("category name = %q, want Science Fiction", book.CategoryName)
	}
	if book.Available != 2 {
		t.Fatalf("available = %d, want 2", book.Available)
	}
}

func TestMemoryStoreAvailabilityTracksLedger(t *testing.T) {
	m := NewMemoryStore()
	seedCatalog(t, m, 2)
	now := time.Now().UTC()

	if err := m.CreateBorrow(borrowAt("tx-1", "user-1", "book-1", now)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	book, _, err := m.GetBook("book-1")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.Available != 1 {
		t.Fatalf("available after borrow = %d, want 1", book.Available)
	}

	updated, err := m.MarkReturned("tx-1", now.Add(time.Second))
	if err != nil || !updated {
		t.Fatalf("mark returned: updated=%v err=%v", updated, err)
	}
	book, _, err = m.GetBook("book-1")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.Available != 2 {
		t.Fatalf("available after return = %d, want 2", book.Available)
	}
}

func TestMemoryStoreCreateBorrowChain(t *testing.T) {
	m := NewMemoryStore()
	seedCatalog(t, m, 2)
	now := time.Now().UTC()

	if err := m.CreateBorrow(borrowAt("tx-0", "user-1", "missing", now)); !errors.Is(err, domain.ErrBookNotFound) {
		t.Fatalf("missing book err = %v, want ErrBookNotFound", err)
	}
	if err := m.CreateBorrow(borrowAt("tx-1", "user-1", "book-1", now)); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	// One copy still free, so the repeat borrow fails on the holder
	// check rather than stock.
	if err := m.CreateBorrow(borrowAt("tx-2", "user-1", "book-1", now)); !errors.Is(err, domain.ErrAlreadyBorrowed) {
		t.Fatalf("repeat borrow err = %v, want ErrAlreadyBorrowed", err)
	}
	if err := m.CreateBorrow(borrowAt("tx-3", "user-2", "book-1", now)); err != nil {
		t.Fatalf("second copy borrow: %v", err)
	}
	if err := m.SaveUser(domain.User{ID: "user-3", Email: "lila@example.com", Role: domain.RoleMember}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := m.CreateBorrow(borrowAt("tx-4", "user-3", "book-1", now)); !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("out of stock err = %v, want ErrOutOfStock", err)
	}

	if _, err := m.MarkReturned("tx-1", now.Add(time.Second)); err != nil {
		t.Fatalf("return: %v", err)
	}
	penalty := domain.Penalty{ID: "pen-1", TransactionID: "tx-1", DelayUnits: 1, Amount: 5, CreatedAt: now}
	if err := m.CreatePenalty(penalty); err != nil {
		t.Fatalf("create penalty: %v", err)
	}
	if err := m.CreateBorrow(borrowAt("tx-5", "user-1", "book-1", now)); !errors.Is(err, domain.ErrUnpaidPenalty) {
		t.Fatalf("penalty gate err = %v, want ErrUnpaidPenalty", err)
	}
	// user-3 is unaffected by user-1's penalty.
	if err := m.CreateBorrow(borrowAt("tx-6", "user-3", "book-1", now)); err != nil {
		t.Fatalf("borrow by clean user: %v", err)
	}
}

func TestMemoryStoreMarkReturnedOnce(t *testing.T) {
	m := NewMemoryStore()
	seedCatalog(t, m, 1)
	now := time.Now().UTC()

	if err := m.CreateBorrow(borrowAt("tx-1", "user-1", "book-1", now)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	first := now.Add(time.Second)
	updated, err := m.MarkReturned("tx-1", first)
	if err != nil || !updated {
		t.Fatalf("first return: updated=%v err=%v", updated, err)
	}
	updated, err = m.MarkReturned("tx-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second return: %v", err)
	}
	if updated {
		t.Fatal("second MarkReturned reported an update")
	}
	tx, ok, err := m.GetTransaction("tx-1")
	if err != nil || !ok {
		t.Fatalf("get transaction: ok=%v err=%v", ok, err)
	}
	if tx.ReturnedAt == nil || !tx.ReturnedAt.Equal(first) {
		t.Fatalf("returnedAt = %v, want %v", tx.ReturnedAt, first)
	}
	if tx.BookTitle != "Dune" || tx.UserName != "Ada Lovelace" {
		t.Fatalf("joined fields = %q/%q", tx.BookTitle, tx.UserName)
	}
}

func TestMemoryStorePenaltyScoping(t *testing.T) {
	m := NewMemoryStore()
	seedCatalog(t, m, 2)
	now := time.Now().UTC()

	if err := m.CreateBorrow(borrowAt("tx-1", "user-1", "book-1", now)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := m.CreatePenalty(domain.Penalty{ID: "pen-1", TransactionID: "tx-1", DelayUnits: 2, Amount: 10, CreatedAt: now}); err != nil {
		t.Fatalf("create penalty: %v", err)
	}

	got, ok, err := m.GetPenalty("pen-1")
	if err != nil || !ok {
		t.Fatalf("get penalty: ok=%v err=%v", ok, err)
	}
	// User attribution flows through the transaction join.
	if got.UserID != "user-1" || got.UserName != "Ada Lovelace" {
		t.Fatalf("penalty user = %q/%q, want user-1/Ada Lovelace", got.UserID, got.UserName)
	}

	unpaid, err := m.HasUnpaidPenalty("user-1")
	if err != nil || !unpaid {
		t.Fatalf("HasUnpaidPenalty(user-1) = %v, %v", unpaid, err)
	}
	unpaid, err = m.HasUnpaidPenalty("user-2")
	if err != nil || unpaid {
		t.Fatalf("HasUnpaidPenalty(user-2) = %v, %v", unpaid, err)
	}

	total, err := m.TotalPenaltyAmount()
	if err != nil || total != 10 {
		t.Fatalf("total = %v, %v", total, err)
	}
	userTotal, err := m.UserPenaltyTotal("user-2")
	if err != nil || userTotal != 0 {
		t.Fatalf("user-2 total = %v, %v", userTotal, err)
	}
}

func TestMemoryStoreDeleteTransactionCascades(t *testing.T) {
	m := NewMemoryStore()
	seedCatalog(t, m, 1)
	now := time.Now().UTC()

	if err := m.CreateBorrow(borrowAt("tx-1", "user-1", "book-1", now)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := m.CreatePenalty(domain.Penalty{ID: "pen-1", TransactionID: "tx-1", DelayUnits: 1, Amount: 5, CreatedAt: now}); err != nil {
		t.Fatalf("create penalty: %v", err)
	}
	if err := m.DeleteTransaction("tx-1"); err != nil {
		t.Fatalf("delete transaction: %v", err)
	}
	if _, ok, _ := m.GetPenalty("pen-1"); ok {
		t.Fatal("penalty survived its transaction")
	}
	if count, _ := m.CountOutstanding(); count != 0 {
		t.Fatalf("outstanding = %d, want 0", count)
	}
}

func TestMemoryStoreUserLifecycle(t *testing.T) {
	m := NewMemoryStore()

	if err := m.SaveUser(domain.User{ID: "user-1", Email: "ada@example.com", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("save: %v", err)
	}
	taken, err := m.HasUserEmail("ada@example.com")
	if err != nil || !taken {
		t.Fatalf("HasUserEmail = %v, %v", taken, err)
	}
	count, err := m.UserCount()
	if err != nil || count != 1 {
		t.Fatalf("count = %d, %v", count, err)
	}
	if err := m.DeleteUser("user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.GetUserByEmail("ada@example.com"); ok {
		t.Fatal("deleted user still resolvable by email")
	}
}
