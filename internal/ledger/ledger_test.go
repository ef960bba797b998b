package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/pkg/logger"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// A single connection keeps the in-memory database visible to every
	// goroutine in the concurrency tests.
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	return database
}

func newTestLedger(t *testing.T, database *db.DB) (*Ledger, *sinkSpy) {
	sink := &sinkSpy{}
	return New(database, logger.NewLogger("test", "error"), sink, nil, 0), sink
}

type sinkSpy struct {
	mu     sync.Mutex
	events []Event
}

func (s *sinkSpy) LendingEvent(_ context.Context, evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *sinkSpy) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func seedBook(t *testing.T, database *db.DB, isbn string, quantity int) {
	book := db.Book{
		ISBN:              isbn,
		Title:             "Title " + isbn,
		Author:            "Author",
		QuantityTotal:     quantity,
		QuantityAvailable: quantity,
	}
	require.NoError(t, database.Create(&book).Error)
}

func seedUser(t *testing.T, database *db.DB, email string) int64 {
	user := db.User{
		FirstName:    "Test",
		LastName:     "Reader",
		Email:        email,
		PasswordHash: "x",
		Role:         db.RoleReader,
	}
	require.NoError(t, database.Create(&user).Error)
	return user.ID
}

// assertInvariant checks quantity_available + active borrowings == quantity_total.
func assertInvariant(t *testing.T, database *db.DB, isbn string) {
	t.Helper()

	var book db.Book
	require.NoError(t, database.Where("isbn = ?", isbn).First(&book).Error)

	var active int64
	require.NoError(t, database.Model(&db.Borrowing{}).
		Where("book_isbn = ? AND status = ?", isbn, db.BorrowingStatusActive).
		Count(&active).Error)

	assert.GreaterOrEqual(t, book.QuantityAvailable, 0)
	assert.Equal(t, book.QuantityTotal, book.QuantityAvailable+int(active),
		"available + active borrowings must equal total")
}

func availableQty(t *testing.T, database *db.DB, isbn string) int {
	var book db.Book
	require.NoError(t, database.Where("isbn = ?", isbn).First(&book).Error)
	return book.QuantityAvailable
}

func TestBorrow(t *testing.T) {
	database := setupTestDB(t)
	led, sink := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-100", 3)
	userID := seedUser(t, database, "reader@example.com")

	borrowingID, err := led.Borrow(ctx, "978-0-100", userID)
	require.NoError(t, err)
	assert.Greater(t, borrowingID, int64(0))

	assert.Equal(t, 2, availableQty(t, database, "978-0-100"))
	assertInvariant(t, database, "978-0-100")

	var borrowing db.Borrowing
	require.NoError(t, database.First(&borrowing, borrowingID).Error)
	assert.Equal(t, db.BorrowingStatusActive, borrowing.Status)
	assert.Equal(t, userID, borrowing.UserID)
	assert.Nil(t, borrowing.ReturnedAt)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventBorrowed, events[0].Kind)
	assert.Equal(t, borrowingID, events[0].BorrowingID)
}

func TestBorrowBookNotFound(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)

	userID := seedUser(t, database, "reader@example.com")

	_, err := led.Borrow(context.Background(), "missing-isbn", userID)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestBorrowUnavailable(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-101", 1)
	userA := seedUser(t, database, "a@example.com")
	userB := seedUser(t, database, "b@example.com")

	_, err := led.Borrow(ctx, "978-0-101", userA)
	require.NoError(t, err)

	_, err = led.Borrow(ctx, "978-0-101", userB)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, 0, availableQty(t, database, "978-0-101"))
	assertInvariant(t, database, "978-0-101")
}

func TestBorrowDuplicateActiveLoan(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-102", 5)
	userID := seedUser(t, database, "reader@example.com")

	_, err := led.Borrow(ctx, "978-0-102", userID)
	require.NoError(t, err)

	_, err = led.Borrow(ctx, "978-0-102", userID)
	assert.ErrorIs(t, err, ErrDuplicateActiveLoan)

	// The failed borrow must not have consumed a copy.
	assert.Equal(t, 4, availableQty(t, database, "978-0-102"))
	assertInvariant(t, database, "978-0-102")
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)

	seedBook(t, database, "978-0-103", 1)

	const workers = 8
	userIDs := make([]int64, workers)
	for i := range userIDs {
		userIDs[i] = seedUser(t, database, fmt.Sprintf("reader%d@example.com", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := led.Borrow(context.Background(), "978-0-103", userID)
			results <- err
		}(userIDs[i])
	}
	wg.Wait()
	close(results)

	succeeded, unavailable := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one borrow of the last copy succeeds")
	assert.Equal(t, workers-1, unavailable)
	assert.Equal(t, 0, availableQty(t, database, "978-0-103"))
	assertInvariant(t, database, "978-0-103")
}

func TestConcurrentBorrowSameUser(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)

	seedBook(t, database, "978-0-104", 1)
	userID := seedUser(t, database, "reader@example.com")

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := led.Borrow(context.Background(), "978-0-104", userID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrDuplicateActiveLoan), errors.Is(err, ErrUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)

	var active int64
	require.NoError(t, database.Model(&db.Borrowing{}).
		Where("book_isbn = ? AND user_id = ? AND status = ?", "978-0-104", userID, db.BorrowingStatusActive).
		Count(&active).Error)
	assert.Equal(t, int64(1), active, "racing borrows by one user leave exactly one active borrowing")
	assertInvariant(t, database, "978-0-104")
}

func TestReturnKeepsHistory(t *testing.T) {
	database := setupTestDB(t)
	led, sink := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-105", 2)
	userID := seedUser(t, database, "reader@example.com")

	borrowingID, err := led.Borrow(ctx, "978-0-105", userID)
	require.NoError(t, err)
	require.Equal(t, 1, availableQty(t, database, "978-0-105"))

	require.NoError(t, led.Return(ctx, borrowingID))

	assert.Equal(t, 2, availableQty(t, database, "978-0-105"))
	assertInvariant(t, database, "978-0-105")

	var borrowing db.Borrowing
	require.NoError(t, database.First(&borrowing, borrowingID).Error)
	assert.Equal(t, db.BorrowingStatusReturned, borrowing.Status)
	require.NotNil(t, borrowing.ReturnedAt)
	assert.WithinDuration(t, time.Now().UTC(), *borrowing.ReturnedAt, time.Minute)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventReturned, events[1].Kind)

	// Second return of the same borrowing is a NotFound, not a double credit.
	err = led.Return(ctx, borrowingID)
	assert.ErrorIs(t, err, ErrBorrowingNotFound)
	assert.Equal(t, 2, availableQty(t, database, "978-0-105"))
}

func TestReturnNotFound(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)

	err := led.Return(context.Background(), 424242)
	assert.ErrorIs(t, err, ErrBorrowingNotFound)
}

func TestCancelDeletesRecord(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-106", 1)
	userID := seedUser(t, database, "reader@example.com")

	borrowingID, err := led.Borrow(ctx, "978-0-106", userID)
	require.NoError(t, err)

	require.NoError(t, led.Cancel(ctx, borrowingID, userID))

	assert.Equal(t, 1, availableQty(t, database, "978-0-106"))
	assertInvariant(t, database, "978-0-106")

	// Unlike Return, Cancel leaves no trace of the borrowing.
	var count int64
	require.NoError(t, database.Model(&db.Borrowing{}).Where("id = ?", borrowingID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	err = led.Cancel(ctx, borrowingID, userID)
	assert.ErrorIs(t, err, ErrBorrowingNotFound)
	assert.Equal(t, 1, availableQty(t, database, "978-0-106"))
}

func TestCancelRequiresOwner(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-107", 1)
	owner := seedUser(t, database, "owner@example.com")
	other := seedUser(t, database, "other@example.com")

	borrowingID, err := led.Borrow(ctx, "978-0-107", owner)
	require.NoError(t, err)

	err = led.Cancel(ctx, borrowingID, other)
	assert.ErrorIs(t, err, ErrBorrowingNotFound)

	// Nothing moved.
	assert.Equal(t, 0, availableQty(t, database, "978-0-107"))
	var borrowing db.Borrowing
	require.NoError(t, database.First(&borrowing, borrowingID).Error)
	assert.Equal(t, db.BorrowingStatusActive, borrowing.Status)
}

// The last-copy round trip from the product flow: A takes the only copy, B is
// turned away, A returns it, B succeeds.
func TestLastCopyRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	led, sink := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "ISBN-1", 1)
	userA := seedUser(t, database, "a@example.com")
	userB := seedUser(t, database, "b@example.com")

	borrowingA, err := led.Borrow(ctx, "ISBN-1", userA)
	require.NoError(t, err)
	assert.Equal(t, 0, availableQty(t, database, "ISBN-1"))

	_, err = led.Borrow(ctx, "ISBN-1", userB)
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, led.Return(ctx, borrowingA))
	assert.Equal(t, 1, availableQty(t, database, "ISBN-1"))

	_, err = led.Borrow(ctx, "ISBN-1", userB)
	require.NoError(t, err)
	assertInvariant(t, database, "ISBN-1")

	// The return of the only copy is flagged as back in stock.
	var returned *Event
	for _, evt := range sink.all() {
		if evt.Kind == EventReturned {
			e := evt
			returned = &e
		}
	}
	require.NotNil(t, returned)
	assert.True(t, returned.BackInStock)
}

func TestBackInStockFlagOnlyWhenEmpty(t *testing.T) {
	database := setupTestDB(t)
	led, sink := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-108", 2)
	userID := seedUser(t, database, "reader@example.com")

	borrowingID, err := led.Borrow(ctx, "978-0-108", userID)
	require.NoError(t, err)
	require.NoError(t, led.Return(ctx, borrowingID))

	for _, evt := range sink.all() {
		if evt.Kind == EventReturned {
			assert.False(t, evt.BackInStock, "a copy was still on the shelf")
		}
	}
}

func TestInvariantAcrossMixedOperations(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-109", 3)
	users := make([]int64, 4)
	for i := range users {
		users[i] = seedUser(t, database, fmt.Sprintf("u%d@example.com", i))
	}

	id0, err := led.Borrow(ctx, "978-0-109", users[0])
	require.NoError(t, err)
	assertInvariant(t, database, "978-0-109")

	id1, err := led.Borrow(ctx, "978-0-109", users[1])
	require.NoError(t, err)
	assertInvariant(t, database, "978-0-109")

	_, err = led.Borrow(ctx, "978-0-109", users[2])
	require.NoError(t, err)
	assertInvariant(t, database, "978-0-109")

	_, err = led.Borrow(ctx, "978-0-109", users[3])
	assert.ErrorIs(t, err, ErrUnavailable)
	assertInvariant(t, database, "978-0-109")

	require.NoError(t, led.Cancel(ctx, id0, users[0]))
	assertInvariant(t, database, "978-0-109")

	require.NoError(t, led.Return(ctx, id1))
	assertInvariant(t, database, "978-0-109")

	_, err = led.Borrow(ctx, "978-0-109", users[3])
	require.NoError(t, err)
	assertInvariant(t, database, "978-0-109")
}

func TestAvailableQuantity(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)
	ctx := context.Background()

	seedBook(t, database, "978-0-110", 4)

	qty, err := led.AvailableQuantity(ctx, "978-0-110")
	require.NoError(t, err)
	assert.Equal(t, 4, qty)

	_, err = led.AvailableQuantity(ctx, "missing")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestBorrowWithoutSink(t *testing.T) {
	database := setupTestDB(t)
	led := New(database, logger.NewLogger("test", "error"), nil, nil, 0)

	seedBook(t, database, "978-0-111", 1)
	userID := seedUser(t, database, "reader@example.com")

	_, err := led.Borrow(context.Background(), "978-0-111", userID)
	assert.NoError(t, err)
}

func TestBorrowExpiredDeadlineIsBusy(t *testing.T) {
	database := setupTestDB(t)
	led, sink := newTestLedger(t, database)

	seedBook(t, database, "978-0-112", 2)
	userID := seedUser(t, database, "reader@example.com")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := led.Borrow(ctx, "978-0-112", userID)
	assert.ErrorIs(t, err, ErrBusy)

	// Nothing committed: quantity untouched, no borrowing row, no event.
	assert.Equal(t, 2, availableQty(t, database, "978-0-112"))
	var count int64
	require.NoError(t, database.Model(&db.Borrowing{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, sink.all())
}

func TestReturnExpiredDeadlineIsBusy(t *testing.T) {
	database := setupTestDB(t)
	led, _ := newTestLedger(t, database)

	seedBook(t, database, "978-0-113", 1)
	userID := seedUser(t, database, "reader@example.com")

	borrowingID, err := led.Borrow(context.Background(), "978-0-113", userID)
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err = led.Return(ctx, borrowingID)
	assert.ErrorIs(t, err, ErrBusy)

	// The borrowing stays active.
	assert.Equal(t, 0, availableQty(t, database, "978-0-113"))
	assertInvariant(t, database, "978-0-113")
}

func TestBorrowStoreFailure(t *testing.T) {
	database := setupTestDB(t)
	led, sink := newTestLedger(t, database)

	seedBook(t, database, "978-0-114", 1)
	userID := seedUser(t, database, "reader@example.com")

	// Knock the borrowings table out from under the transaction.
	require.NoError(t, database.Migrator().DropTable(&db.Borrowing{}))

	_, err := led.Borrow(context.Background(), "978-0-114", userID)
	require.Error(t, err)

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
	assert.False(t, IsBusinessError(err))
	assert.NotErrorIs(t, err, ErrBusy)

	assert.Equal(t, 1, availableQty(t, database, "978-0-114"))
	assert.Empty(t, sink.all())
}
