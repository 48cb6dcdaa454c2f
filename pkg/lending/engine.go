// Package lending implements the borrow/return/penalty lifecycle: when a
// borrow is permitted, how a late return is detected and charged, and how
// an unpaid penalty blocks further borrowing.
package lending

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"libris/pkg/domain"
	"libris/pkg/store"
)

// Policy holds the lending constants, settable at startup.
type Policy struct {
	// LoanDuration is how long a borrower keeps a book before it is due.
	LoanDuration time.Duration
	// DelayUnit is the smallest billable increment of lateness. It
	// matches the loan-duration granularity.
	DelayUnit time.Duration
	// PenaltyPerUnit is the charge per delay unit.
	PenaltyPerUnit float64
}

// DefaultPolicy returns the reference deployment policy: a one-minute
// loan with a charge of 5 per minute of delay. Kept deliberately short so
// lateness is observable in demos; production sets this to days.
func DefaultPolicy() Policy {
	return Policy{
		LoanDuration:   time.Minute,
		DelayUnit:      time.Minute,
		PenaltyPerUnit: 5,
	}
}

// Ledger is the slice of the store the engine drives.
type Ledger interface {
	GetBook(id string) (domain.Book, bool, error)
	store.BorrowLedger
	store.PenaltyLedger
}

// Engine orchestrates borrows, returns, and penalty payment. It holds no
// state of its own; the ledger is the single shared resource.
type Engine struct {
	ledger Ledger
	policy Policy
	now    func() time.Time
	log    *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source. Tests use it to make lateness
// deterministic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger used for degraded-path reporting.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// NewEngine builds an engine over a ledger with the given policy.
func NewEngine(ledger Ledger, policy Policy, options ...Option) *Engine {
	e := &Engine{
		ledger: ledger,
		policy: policy,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(e)
		}
	}
	return e
}

// BorrowBook lends a book to a user. The store routine enforces the
// precondition chain (book exists, a copy is available, the user does not
// already hold this book, the user has no unpaid penalty) atomically per
// book, so concurrent borrows of the last copy cannot both succeed.
func (e *Engine) BorrowBook(userID, bookID string) (domain.BorrowTransaction, string, error) {
	now := e.now().UTC()
	tx := domain.BorrowTransaction{
		ID:         uuid.NewString(),
		BookID:     bookID,
		UserID:     userID,
		BorrowedAt: now,
		DueAt:      now.Add(e.policy.LoanDuration),
	}
	if err := e.ledger.CreateBorrow(tx); err != nil {
		return domain.BorrowTransaction{}, "", err
	}
	stored, ok, err := e.ledger.GetTransaction(tx.ID)
	if err != nil || !ok {
		// The borrow is committed; fall back to the local copy for the
		// response instead of failing the whole operation.
		stored = tx
	}
	msg := fmt.Sprintf("%q borrowed; due back %s", stored.BookTitle, stored.DueAt.Format(time.RFC3339))
	return stored, msg, nil
}

// ReturnOutcome reports the result of a completed return.
type ReturnOutcome struct {
	Transaction domain.BorrowTransaction
	// Penalty is set when the return was late and the charge was
	// recorded.
	Penalty *domain.Penalty
	Late    bool
	// PenaltyRecorded is false only on the degraded path where the
	// return committed but the penalty insert failed.
	PenaltyRecorded bool
	Message         string
}

// ReturnBook records the return of a loan and charges a penalty when it
// is late. Once the return timestamp is committed it is never undone: if
// the penalty insert then fails, the return still succeeds and the
// outcome reports the missing charge. A book must never stay outstanding
// because of penalty bookkeeping.
func (e *Engine) ReturnBook(transactionID, userID string) (ReturnOutcome, error) {
	tx, ok, err := e.ledger.GetTransaction(transactionID)
	if err != nil {
		return ReturnOutcome{}, fmt.Errorf("fetch transaction: %w", err)
	}
	if !ok {
		return ReturnOutcome{}, domain.ErrTransactionNotFound
	}
	if tx.UserID != userID {
		return ReturnOutcome{}, domain.ErrNotOwner
	}
	if !tx.Outstanding() {
		return ReturnOutcome{}, domain.ErrAlreadyReturned
	}

	now := e.now().UTC()
	updated, err := e.ledger.MarkReturned(tx.ID, now)
	if err != nil {
		return ReturnOutcome{}, fmt.Errorf("record return: %w", err)
	}
	if !updated {
		// Lost a double-return race after the read above.
		return ReturnOutcome{}, domain.ErrAlreadyReturned
	}
	tx.ReturnedAt = &now

	out := ReturnOutcome{Transaction: tx, PenaltyRecorded: true}
	if !now.After(tx.DueAt) {
		out.Message = fmt.Sprintf("%q returned on time", tx.BookTitle)
		return out, nil
	}

	out.Late = true
	units := e.delayUnits(now.Sub(tx.DueAt))
	penalty := domain.Penalty{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		DelayUnits:    units,
		Amount:        float64(units) * e.policy.PenaltyPerUnit,
		CreatedAt:     now,
	}
	if err := e.ledger.CreatePenalty(penalty); err != nil {
		e.log.Error("late-return penalty not recorded",
			"transaction_id", tx.ID,
			"user_id", userID,
			"delay_units", units,
			"err", err,
		)
		out.PenaltyRecorded = false
		out.Message = fmt.Sprintf("%q returned late; the penalty could not be recorded", tx.BookTitle)
		return out, nil
	}
	out.Penalty = &penalty
	out.Message = fmt.Sprintf("%q returned %d unit(s) late; penalty %.2f", tx.BookTitle, units, penalty.Amount)
	return out, nil
}

// delayUnits converts overdue time to whole billable units. Any lateness
// at all charges at least one full unit.
func (e *Engine) delayUnits(delay time.Duration) int {
	units := int(delay / e.policy.DelayUnit)
	if units < 1 {
		units = 1
	}
	return units
}

// PayPenalty settles a penalty by removing its record. Payment is
// modeled as deletion; there is no persisted payment history.
func (e *Engine) PayPenalty(penaltyID, userID string) error {
	penalty, ok, err := e.ledger.GetPenalty(penaltyID)
	if err != nil {
		return fmt.Errorf("fetch penalty: %w", err)
	}
	if !ok {
		return domain.ErrPenaltyNotFound
	}
	if penalty.UserID != userID {
		return domain.ErrNotOwner
	}
	if err := e.ledger.DeletePenalty(penaltyID); err != nil {
		return fmt.Errorf("delete penalty: %w", err)
	}
	return nil
}

// Transactions returns every borrow transaction, newest first.
func (e *Engine) Transactions() ([]domain.BorrowTransaction, error) {
	return e.ledger.ListTransactions()
}

// TransactionsForUser returns a user's transactions, newest first.
func (e *Engine) TransactionsForUser(userID string) ([]domain.BorrowTransaction, error) {
	return e.ledger.ListTransactionsByUser(userID)
}

// Penalties returns every unpaid penalty.
func (e *Engine) Penalties() ([]domain.Penalty, error) {
	return e.ledger.ListPenalties()
}

// PenaltiesForUser returns a user's unpaid penalties.
func (e *Engine) PenaltiesForUser(userID string) ([]domain.Penalty, error) {
	return e.ledger.ListPenaltiesByUser(userID)
}

// HasUnpaidPenalty reports whether the borrow gate is closed for a user.
func (e *Engine) HasUnpaidPenalty(userID string) (bool, error) {
	return e.ledger.HasUnpaidPenalty(userID)
}

// UserPenaltyTotal sums a user's unpaid penalty amounts.
func (e *Engine) UserPenaltyTotal(userID string) (float64, error) {
	return e.ledger.UserPenaltyTotal(userID)
}

// ActiveLoanCount returns the number of outstanding loans system-wide.
func (e *Engine) ActiveLoanCount() (int, error) {
	return e.ledger.CountOutstanding()
}

// ActiveLoanCountForUser returns a user's outstanding loan count.
func (e *Engine) ActiveLoanCountForUser(userID string) (int, error) {
	return e.ledger.CountOutstandingByUser(userID)
}

// TotalPenaltyAmount sums every unpaid penalty system-wide.
func (e *Engine) TotalPenaltyAmount() (float64, error) {
	return e.ledger.TotalPenaltyAmount()
}

// PurgeTransaction removes a transaction and its linked penalty.
// Administrative operation; normal returns never delete.
func (e *Engine) PurgeTransaction(transactionID string) error {
	_, ok, err := e.ledger.GetTransaction(transactionID)
	if err != nil {
		return fmt.Errorf("fetch transaction: %w", err)
	}
	if !ok {
		return domain.ErrTransactionNotFound
	}
	return e.ledger.DeleteTransaction(transactionID)
}

// RemovePenalty deletes a penalty without payment. Administrative
// operation.
func (e *Engine) RemovePenalty(penaltyID string) error {
	_, ok, err := e.ledger.GetPenalty(penaltyID)
	if err != nil {
		return fmt.Errorf("fetch penalty: %w", err)
	}
	if !ok {
		return domain.ErrPenaltyNotFound
	}
	return e.ledger.DeletePenalty(penaltyID)
}
