// Package ledger implements the borrowing lifecycle: Borrow, Return and
// Cancel run as atomic transactions against the relational store, keeping
// book quantities and borrowing records consistent under concurrent calls.
//
// Every committed transaction preserves the invariant
//
//	quantity_available = quantity_total - count(active borrowings)
//
// for the touched book. Operations on the same book serialize on its row
// lock; operations on different books proceed in parallel.
package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/internal/metrics"
)

// DefaultTimeout bounds how long an operation may wait on the book row
// before reporting ErrBusy.
const DefaultTimeout = 3 * time.Second

// EventKind identifies a committed lending event.
type EventKind string

const (
	EventBorrowed EventKind = "lending.borrowed"
	EventReturned EventKind = "lending.returned"
	EventCanceled EventKind = "lending.canceled"
)

// Event describes one committed ledger operation. BackInStock is set when a
// Return or Cancel made a previously out-of-stock title available again.
type Event struct {
	Kind        EventKind
	BookISBN    string
	BookTitle   string
	UserID      int64
	BorrowingID int64
	BackInStock bool
	OccurredAt  time.Time
}

// EventSink receives committed lending events. Delivery is fire-and-forget:
// the transaction has already committed when the sink is invoked, and a sink
// failure never affects the ledger's result.
type EventSink interface {
	LendingEvent(ctx context.Context, evt Event)
}

// Ledger owns all mutations of book quantities and borrowing records. No
// other component writes those columns.
type Ledger struct {
	db      *db.DB
	log     *zap.Logger
	sink    EventSink
	metrics *metrics.Metrics
	timeout time.Duration
}

// New creates a Ledger over the given store. sink and mets may be nil;
// a non-positive timeout falls back to DefaultTimeout.
func New(database *db.DB, log *zap.Logger, sink EventSink, mets *metrics.Metrics, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ledger{
		db:      database,
		log:     log,
		sink:    sink,
		metrics: mets,
		timeout: timeout,
	}
}

// Borrow lends one copy of the book to the user. It fails with
// ErrBookNotFound, ErrUnavailable or ErrDuplicateActiveLoan without mutating
// anything; on success it returns the new borrowing's id.
func (l *Ledger) Borrow(ctx context.Context, isbn string, userID int64) (int64, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var borrowing db.Borrowing
	var bookTitle string

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book, err := l.lockBook(tx, isbn)
		if err != nil {
			return err
		}
		bookTitle = book.Title

		if book.QuantityAvailable <= 0 {
			return ErrUnavailable
		}

		var active int64
		err = tx.Model(&db.Borrowing{}).
			Where("book_isbn = ? AND user_id = ? AND status = ?", isbn, userID, db.BorrowingStatusActive).
			Count(&active).Error
		if err != nil {
			return &StoreError{Op: "check active borrowing", Err: err}
		}
		if active > 0 {
			return ErrDuplicateActiveLoan
		}

		// Relative, guarded decrement: never read-modify-write outside the lock.
		res := tx.Model(&db.Book{}).
			Where("isbn = ? AND quantity_available > 0", isbn).
			UpdateColumn("quantity_available", gorm.Expr("quantity_available - 1"))
		if res.Error != nil {
			return &StoreError{Op: "decrement quantity", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return ErrUnavailable
		}

		borrowing = db.Borrowing{
			BookISBN:   isbn,
			UserID:     userID,
			Status:     db.BorrowingStatusActive,
			BorrowedAt: time.Now().UTC(),
		}
		if err := tx.Create(&borrowing).Error; err != nil {
			return &StoreError{Op: "insert borrowing", Err: err}
		}
		return nil
	})

	err = l.translate(err)
	l.observe("borrow", started, err)
	if err != nil {
		return 0, err
	}

	l.log.Info("book borrowed",
		zap.String("isbn", isbn),
		zap.Int64("user_id", userID),
		zap.Int64("borrowing_id", borrowing.ID),
	)
	l.emit(ctx, Event{
		Kind:        EventBorrowed,
		BookISBN:    isbn,
		BookTitle:   bookTitle,
		UserID:      userID,
		BorrowingID: borrowing.ID,
		OccurredAt:  borrowing.BorrowedAt,
	})
	return borrowing.ID, nil
}

// Return marks an active borrowing as returned and puts the copy back in
// stock. The borrowing row is kept as history with its return timestamp set.
func (l *Ledger) Return(ctx context.Context, borrowingID int64) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var evt Event

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		borrowing, err := l.lockActiveBorrowing(tx, borrowingID, 0)
		if err != nil {
			return err
		}

		book, err := l.lockBook(tx, borrowing.BookISBN)
		if err != nil {
			if errors.Is(err, ErrBookNotFound) {
				return &StoreError{Op: "load borrowed book", Err: err}
			}
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&db.Borrowing{}).
			Where("id = ? AND status = ?", borrowingID, db.BorrowingStatusActive).
			Updates(map[string]interface{}{
				"status":      db.BorrowingStatusReturned,
				"returned_at": now,
			})
		if res.Error != nil {
			return &StoreError{Op: "mark returned", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return ErrBorrowingNotFound
		}

		if err := l.restoreCopy(tx, book.ISBN); err != nil {
			return err
		}

		evt = Event{
			Kind:        EventReturned,
			BookISBN:    book.ISBN,
			BookTitle:   book.Title,
			UserID:      borrowing.UserID,
			BorrowingID: borrowing.ID,
			BackInStock: book.QuantityAvailable == 0,
			OccurredAt:  now,
		}
		return nil
	})

	err = l.translate(err)
	l.observe("return", started, err)
	if err != nil {
		return err
	}

	l.log.Info("book returned",
		zap.String("isbn", evt.BookISBN),
		zap.Int64("borrowing_id", borrowingID),
	)
	l.emit(ctx, evt)
	return nil
}

// Cancel rescinds an active borrowing on behalf of its owner: the copy goes
// back in stock and the borrowing row is deleted, leaving no history. It
// fails with ErrBorrowingNotFound unless an active borrowing matches both id
// and owner.
func (l *Ledger) Cancel(ctx context.Context, borrowingID, userID int64) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var evt Event

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		borrowing, err := l.lockActiveBorrowing(tx, borrowingID, userID)
		if err != nil {
			return err
		}

		book, err := l.lockBook(tx, borrowing.BookISBN)
		if err != nil {
			if errors.Is(err, ErrBookNotFound) {
				return &StoreError{Op: "load borrowed book", Err: err}
			}
			return err
		}

		res := tx.
			Where("id = ? AND user_id = ? AND status = ?", borrowingID, userID, db.BorrowingStatusActive).
			Delete(&db.Borrowing{})
		if res.Error != nil {
			return &StoreError{Op: "delete borrowing", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return ErrBorrowingNotFound
		}

		if err := l.restoreCopy(tx, book.ISBN); err != nil {
			return err
		}

		evt = Event{
			Kind:        EventCanceled,
			BookISBN:    book.ISBN,
			BookTitle:   book.Title,
			UserID:      userID,
			BorrowingID: borrowingID,
			BackInStock: book.QuantityAvailable == 0,
			OccurredAt:  time.Now().UTC(),
		}
		return nil
	})

	err = l.translate(err)
	l.observe("cancel", started, err)
	if err != nil {
		return err
	}

	l.log.Info("borrowing canceled",
		zap.String("isbn", evt.BookISBN),
		zap.Int64("borrowing_id", borrowingID),
		zap.Int64("user_id", userID),
	)
	l.emit(ctx, evt)
	return nil
}

// AvailableQuantity reads the book's current available quantity from a
// recent-committed snapshot. It takes no row lock.
func (l *Ledger) AvailableQuantity(ctx context.Context, isbn string) (int, error) {
	var book db.Book
	err := l.db.WithContext(ctx).
		Select("quantity_available").
		Where("isbn = ?", isbn).
		First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrBookNotFound
		}
		return 0, l.translate(&StoreError{Op: "read quantity", Err: err})
	}
	return book.QuantityAvailable, nil
}

// lockBook loads the book row under an exclusive lock, serializing all
// ledger operations that touch the same ISBN.
func (l *Ledger) lockBook(tx *gorm.DB, isbn string) (*db.Book, error) {
	var book db.Book
	stmt := tx.Where("isbn = ?", isbn)
	if rowLocksSupported(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := stmt.First(&book).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, &StoreError{Op: "load book", Err: err}
	}
	return &book, nil
}

// lockActiveBorrowing loads an active borrowing under lock. A zero ownerID
// skips the ownership check (admin Return path).
func (l *Ledger) lockActiveBorrowing(tx *gorm.DB, borrowingID, ownerID int64) (*db.Borrowing, error) {
	var borrowing db.Borrowing
	stmt := tx.Where("id = ? AND status = ?", borrowingID, db.BorrowingStatusActive)
	if ownerID != 0 {
		stmt = stmt.Where("user_id = ?", ownerID)
	}
	if rowLocksSupported(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := stmt.First(&borrowing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBorrowingNotFound
		}
		return nil, &StoreError{Op: "load borrowing", Err: err}
	}
	return &borrowing, nil
}

// restoreCopy increments the book's available quantity, guarded so that it
// can never exceed the total. A zero-row update here means quantities and
// borrowings diverged, which the invariant forbids.
func (l *Ledger) restoreCopy(tx *gorm.DB, isbn string) error {
	res := tx.Model(&db.Book{}).
		Where("isbn = ? AND quantity_available < quantity_total", isbn).
		UpdateColumn("quantity_available", gorm.Expr("quantity_available + 1"))
	if res.Error != nil {
		return &StoreError{Op: "increment quantity", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &StoreError{Op: "increment quantity", Err: errors.New("quantity already at total")}
	}
	return nil
}

// rowLocksSupported reports whether the dialect understands SELECT ... FOR
// UPDATE. SQLite does not parse the clause; its single-writer model plus the
// guarded relative updates keep the invariant there.
func rowLocksSupported(tx *gorm.DB) bool {
	return tx.Dialector.Name() != "sqlite"
}

// translate maps transaction failures onto the ledger taxonomy: business
// errors pass through, lock-wait timeouts become ErrBusy, everything else is
// a StoreError.
func (l *Ledger) translate(err error) error {
	if err == nil {
		return nil
	}
	if IsBusinessError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrBusy
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		if errors.Is(storeErr.Err, context.DeadlineExceeded) || errors.Is(storeErr.Err, context.Canceled) {
			return ErrBusy
		}
		return err
	}
	return &StoreError{Op: "transaction", Err: err}
}

func (l *Ledger) observe(op string, started time.Time, err error) {
	l.metrics.ObserveLedgerOp(op, outcomeLabel(err), time.Since(started))
}

func (l *Ledger) emit(ctx context.Context, evt Event) {
	if l.sink == nil {
		return
	}
	l.sink.LendingEvent(ctx, evt)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBookNotFound), errors.Is(err, ErrBorrowingNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrDuplicateActiveLoan):
		return "duplicate"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
