package lending

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"libris/pkg/domain"
	"libris/pkg/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fixture struct {
	store  *store.MemoryStore
	engine *Engine
	now    time.Time
}

// newFixture seeds one member, one admin-free catalog entry, and an
// engine pinned to a fixed clock.
func newFixture(t *testing.T, stock int, options ...Option) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, mem.SaveUser(domain.User{ID: "user-1", FullName: "Ada Lovelace", Email: "ada@example.com", Role: domain.RoleMember}))
	require.NoError(t, mem.SaveUser(domain.User{ID: "user-2", FullName: "Mary Shelley", Email: "mary@example.com", Role: domain.RoleMember}))
	require.NoError(t, mem.SaveAuthor(domain.Author{ID: "author-1", Name: "Frank Herbert"}))
	require.NoError(t, mem.SaveCategory(domain.Category{ID: "cat-1", Name: "Science Fiction"}))
	require.NoError(t, mem.SaveBook(domain.Book{
		ID:          "book-1",
		Title:       "Dune",
		AuthorID:    "author-1",
		CategoryID:  "cat-1",
		StockNumber: stock,
	}))

	options = append([]Option{WithClock(fixedClock(now))}, options...)
	return &fixture{
		store:  mem,
		engine: NewEngine(mem, DefaultPolicy(), options...),
		now:    now,
	}
}

func (f *fixture) setClock(t time.Time) {
	f.engine.now = fixedClock(t)
	f.now = t
}

func TestBorrowBook(t *testing.T) {
	f := newFixture(t, 2)

	tx, msg, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)
	assert.Equal(t, "book-1", tx.BookID)
	assert.Equal(t, "user-1", tx.UserID)
	assert.Equal(t, "Dune", tx.BookTitle)
	assert.Equal(t, f.now, tx.BorrowedAt)
	assert.Equal(t, f.now.Add(time.Minute), tx.DueAt)
	assert.True(t, tx.Outstanding())
	assert.Contains(t, msg, "Dune")

	book, ok, err := f.store.GetBook("book-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, book.Available)
}

func TestBorrowBookNotFound(t *testing.T) {
	f := newFixture(t, 1)

	_, _, err := f.engine.BorrowBook("user-1", "no-such-book")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

func TestBorrowBookOutOfStock(t *testing.T) {
	f := newFixture(t, 1)

	_, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)

	_, _, err = f.engine.BorrowBook("user-2", "book-1")
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
}

func TestBorrowBookAlreadyBorrowed(t *testing.T) {
	f := newFixture(t, 3)

	_, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)

	_, _, err = f.engine.BorrowBook("user-1", "book-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyBorrowed)
}

func TestBorrowBookUnpaidPenaltyGate(t *testing.T) {
	f := newFixture(t, 3)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)

	// Return two units late; a penalty now blocks further borrowing.
	f.setClock(tx.DueAt.Add(2 * time.Minute))
	outcome, err := f.engine.ReturnBook(tx.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Penalty)

	_, _, err = f.engine.BorrowBook("user-1", "book-1")
	assert.ErrorIs(t, err, domain.ErrUnpaidPenalty)

	// Other users are not affected by user-1's penalty.
	_, _, err = f.engine.BorrowBook("user-2", "book-1")
	assert.NoError(t, err)

	// Paying the penalty reopens the gate.
	require.NoError(t, f.engine.PayPenalty(outcome.Penalty.ID, "user-1"))
	_, _, err = f.engine.BorrowBook("user-1", "book-1")
	assert.NoError(t, err)
}

func TestBorrowPreconditionOrder(t *testing.T) {
	// A user with an unpaid penalty asking for a missing book must see
	// the not-found error, not the penalty error.
	f := newFixture(t, 1)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)
	f.setClock(tx.DueAt.Add(time.Minute))
	outcome, err := f.engine.ReturnBook(tx.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Penalty)

	_, _, err = f.engine.BorrowBook("user-1", "no-such-book")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

func TestReturnBookOnTime(t *testing.T) {
	f := newFixture(t, 1)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)

	// Exactly at the due instant still counts as on time.
	f.setClock(tx.DueAt)
	outcome, err := f.engine.ReturnBook(tx.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, outcome.Late)
	assert.Nil(t, outcome.Penalty)
	assert.True(t, outcome.PenaltyRecorded)
	assert.False(t, outcome.Transaction.Outstanding())

	book, _, err := f.store.GetBook("book-1")
	require.NoError(t, err)
	assert.Equal(t, 1, book.Available)
}

func TestReturnBookLatePenalty(t *testing.T) {
	cases := []struct {
		name      string
		delay     time.Duration
		wantUnits int
		wantAmt   float64
	}{
		{"one second late charges a full unit", time.Second, 1, 5},
		{"two full units plus remainder", 125 * time.Second, 2, 10},
		{"exactly one unit", time.Minute, 1, 5},
		{"ten units", 10 * time.Minute, 10, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 1)
			tx, _, err := f.engine.BorrowBook("user-1", "book-1")
			require.NoError(t, err)

			f.setClock(tx.DueAt.Add(tc.delay))
			outcome, err := f.engine.ReturnBook(tx.ID, "user-1")
			require.NoError(t, err)
			assert.True(t, outcome.Late)
			require.NotNil(t, outcome.Penalty)
			assert.Equal(t, tc.wantUnits, outcome.Penalty.DelayUnits)
			assert.Equal(t, tc.wantAmt, outcome.Penalty.Amount)
			assert.Equal(t, tx.ID, outcome.Penalty.TransactionID)

			unpaid, err := f.engine.HasUnpaidPenalty("user-1")
			require.NoError(t, err)
			assert.True(t, unpaid)
		})
	}
}

func TestReturnBookIdempotence(t *testing.T) {
	f := newFixture(t, 1)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)
	f.setClock(tx.DueAt)
	_, err = f.engine.ReturnBook(tx.ID, "user-1")
	require.NoError(t, err)

	_, err = f.engine.ReturnBook(tx.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyReturned)
}

func TestReturnBookOwnership(t *testing.T) {
	f := newFixture(t, 1)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)

	_, err = f.engine.ReturnBook(tx.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.engine.ReturnBook("no-such-tx", "user-1")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

// penaltyFailLedger wraps the memory store and refuses penalty inserts.
type penaltyFailLedger struct {
	*store.MemoryStore
}

func (p penaltyFailLedger) CreatePenalty(domain.Penalty) error {
	return errors.New("penalty table unavailable")
}

func TestReturnBookPenaltyPersistFailure(t *testing.T) {
	f := newFixture(t, 1)
	failing := NewEngine(penaltyFailLedger{f.store}, DefaultPolicy(), WithClock(fixedClock(f.now)))

	tx, _, err := failing.BorrowBook("user-1", "book-1")
	require.NoError(t, err)

	late := tx.DueAt.Add(3 * time.Minute)
	failing.now = fixedClock(late)
	outcome, err := failing.ReturnBook(tx.ID, "user-1")

	// The return must commit even though the charge was lost.
	require.NoError(t, err)
	assert.True(t, outcome.Late)
	assert.False(t, outcome.PenaltyRecorded)
	assert.Nil(t, outcome.Penalty)
	assert.False(t, outcome.Transaction.Outstanding())

	unpaid, err := f.store.HasUnpaidPenalty("user-1")
	require.NoError(t, err)
	assert.False(t, unpaid)
}

func TestPayPenalty(t *testing.T) {
	f := newFixture(t, 1)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)
	f.setClock(tx.DueAt.Add(time.Minute))
	outcome, err := f.engine.ReturnBook(tx.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Penalty)

	assert.ErrorIs(t, f.engine.PayPenalty(outcome.Penalty.ID, "user-2"), domain.ErrNotOwner)
	assert.ErrorIs(t, f.engine.PayPenalty("no-such-penalty", "user-1"), domain.ErrPenaltyNotFound)

	require.NoError(t, f.engine.PayPenalty(outcome.Penalty.ID, "user-1"))
	unpaid, err := f.engine.HasUnpaidPenalty("user-1")
	require.NoError(t, err)
	assert.False(t, unpaid)

	// Paying twice fails: the record is gone.
	assert.ErrorIs(t, f.engine.PayPenalty(outcome.Penalty.ID, "user-1"), domain.ErrPenaltyNotFound)
}

func TestPenaltyTotals(t *testing.T) {
	f := newFixture(t, 5)

	for i, user := range []string{"user-1", "user-2"} {
		tx, _, err := f.engine.BorrowBook(user, "book-1")
		require.NoError(t, err)
		f.setClock(tx.DueAt.Add(time.Duration(i+1) * time.Minute))
		_, err = f.engine.ReturnBook(tx.ID, user)
		require.NoError(t, err)
	}

	total, err := f.engine.TotalPenaltyAmount()
	require.NoError(t, err)
	assert.Equal(t, 15.0, total)

	user1, err := f.engine.UserPenaltyTotal("user-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, user1)

	user2, err := f.engine.UserPenaltyTotal("user-2")
	require.NoError(t, err)
	assert.Equal(t, 10.0, user2)
}

func TestPurgeTransactionCascadesPenalty(t *testing.T) {
	f := newFixture(t, 1)

	tx, _, err := f.engine.BorrowBook("user-1", "book-1")
	require.NoError(t, err)
	f.setClock(tx.DueAt.Add(time.Minute))
	outcome, err := f.engine.ReturnBook(tx.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Penalty)

	require.NoError(t, f.engine.PurgeTransaction(tx.ID))

	_, ok, err := f.store.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = f.store.GetPenalty(outcome.Penalty.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, f.engine.PurgeTransaction(tx.ID), domain.ErrTransactionNotFound)
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	const borrowers = 16

	mem := store.NewMemoryStore()
	require.NoError(t, mem.SaveAuthor(domain.Author{ID: "author-1", Name: "Ursula K. Le Guin"}))
	require.NoError(t, mem.SaveCategory(domain.Category{ID: "cat-1", Name: "Fantasy"}))
	require.NoError(t, mem.SaveBook(domain.Book{ID: "book-1", Title: "A Wizard of Earthsea", AuthorID: "author-1", CategoryID: "cat-1", StockNumber: 1}))
	for i := 0; i < borrowers; i++ {
		require.NoError(t, mem.SaveUser(domain.User{ID: fmt.Sprintf("user-%d", i), Email: fmt.Sprintf("u%d@example.com", i), Role: domain.RoleMember}))
	}

	engine := NewEngine(mem, DefaultPolicy())

	var succeeded atomic.Int32
	var g errgroup.Group
	for i := 0; i < borrowers; i++ {
		userID := fmt.Sprintf("user-%d", i)
		g.Go(func() error {
			_, _, err := engine.BorrowBook(userID, "book-1")
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if errors.Is(err, domain.ErrOutOfStock) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), succeeded.Load())
	count, err := mem.CountOutstanding()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
