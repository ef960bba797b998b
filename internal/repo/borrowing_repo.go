package repo

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/db"
)

// BorrowingWithBook is a borrowing joined with its book's metadata, as the
// client renders it in list screens.
type BorrowingWithBook struct {
	ID         int64      `json:"id"`
	BookISBN   string     `json:"book_isbn"`
	Status     string     `json:"status"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	Language   string     `json:"language,omitempty"`
}

// AdminBorrowing additionally carries the borrower for the admin overview.
type AdminBorrowing struct {
	BorrowingWithBook
	UserID        int64  `json:"user_id"`
	UserFirstName string `json:"user_first_name"`
	UserLastName  string `json:"user_last_name"`
}

// UserStats summarizes one reader's borrowing history.
type UserStats struct {
	TotalBorrowed   int64 `json:"total_borrowed"`
	CurrentBorrowed int64 `json:"current_borrowed"`
	ReturnedBooks   int64 `json:"returned_books"`
}

// DashboardStats summarizes the whole system for the admin dashboard.
type DashboardStats struct {
	UsersCount            int64 `json:"users_count"`
	BooksCount            int64 `json:"books_count"`
	ActiveBorrowingsCount int64 `json:"active_borrowings_count"`
	ReturnedBooksCount    int64 `json:"returned_books_count"`
}

// BorrowingRepository serves read-only borrowing views. All writes to the
// borrowings table go through the ledger.
type BorrowingRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewBorrowingRepository creates a new borrowing query repository.
func NewBorrowingRepository(database *db.DB, log *zap.Logger) *BorrowingRepository {
	return &BorrowingRepository{
		db:  database,
		log: log,
	}
}

// ListForUser returns a reader's borrowings with book metadata, newest first.
func (r *BorrowingRepository) ListForUser(ctx context.Context, userID int64) ([]BorrowingWithBook, error) {
	var rows []BorrowingWithBook
	err := r.db.WithContext(ctx).
		Table("borrowings").
		Select(`borrowings.id, borrowings.book_isbn, borrowings.status,
			borrowings.borrowed_at, borrowings.returned_at,
			books.title, books.author, books.language`).
		Joins("JOIN books ON books.isbn = borrowings.book_isbn").
		Where("borrowings.user_id = ?", userID).
		Order("borrowings.borrowed_at DESC").
		Scan(&rows).Error
	if err != nil {
		r.log.Error("Failed to list borrowings", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// ListAll returns every borrowing with book and borrower, newest first.
func (r *BorrowingRepository) ListAll(ctx context.Context) ([]AdminBorrowing, error) {
	var rows []AdminBorrowing
	err := r.db.WithContext(ctx).
		Table("borrowings").
		Select(`borrowings.id, borrowings.book_isbn, borrowings.status,
			borrowings.borrowed_at, borrowings.returned_at,
			books.title, books.author, books.language,
			users.id AS user_id, users.first_name AS user_first_name,
			users.last_name AS user_last_name`).
		Joins("JOIN books ON books.isbn = borrowings.book_isbn").
		Joins("JOIN users ON users.id = borrowings.user_id").
		Order("borrowings.borrowed_at DESC").
		Scan(&rows).Error
	if err != nil {
		r.log.Error("Failed to list all borrowings", zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// StatsForUser returns a reader's borrowing counters.
func (r *BorrowingRepository) StatsForUser(ctx context.Context, userID int64) (*UserStats, error) {
	var stats UserStats
	err := r.db.WithContext(ctx).
		Table("borrowings").
		Select(`COUNT(*) AS total_borrowed,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS current_borrowed,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS returned_books`,
			db.BorrowingStatusActive, db.BorrowingStatusReturned).
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		r.log.Error("Failed to load user stats", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	return &stats, nil
}

// DashboardStats returns the admin dashboard counters.
func (r *BorrowingRepository) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats

	queries := []struct {
		dest  *int64
		model interface{}
		where []interface{}
	}{
		{&stats.UsersCount, &db.User{}, nil},
		{&stats.BooksCount, &db.Book{}, nil},
		{&stats.ActiveBorrowingsCount, &db.Borrowing{}, []interface{}{"status = ?", db.BorrowingStatusActive}},
		{&stats.ReturnedBooksCount, &db.Borrowing{}, []interface{}{"status = ?", db.BorrowingStatusReturned}},
	}

	for _, q := range queries {
		stmt := r.db.WithContext(ctx).Model(q.model)
		if q.where != nil {
			stmt = stmt.Where(q.where[0], q.where[1:]...)
		}
		if err := stmt.Count(q.dest).Error; err != nil {
			r.log.Error("Failed to load dashboard stats", zap.Error(err))
			return nil, err
		}
	}

	return &stats, nil
}
