package repo

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookhive/bookhive/internal/db"
)

var (
	// ErrBookNotFound is returned when a book is not found.
	ErrBookNotFound = errors.New("book not found")

	// ErrBookAlreadyExists is returned when creating a book whose ISBN is taken.
	ErrBookAlreadyExists = errors.New("book already exists")

	// ErrBookHasActiveLoans is returned when deleting a book that active
	// borrowings still reference.
	ErrBookHasActiveLoans = errors.New("book has active borrowings")
)

// BookRepository handles catalog operations. It never touches the quantity
// columns after creation; those belong to the lending ledger.
type BookRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewBookRepository creates a new catalog repository.
func NewBookRepository(database *db.DB, log *zap.Logger) *BookRepository {
	return &BookRepository{
		db:  database,
		log: log,
	}
}

// List returns all books, newest first.
func (r *BookRepository) List(ctx context.Context) ([]db.Book, error) {
	var books []db.Book
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&books).Error; err != nil {
		r.log.Error("Failed to list books", zap.Error(err))
		return nil, err
	}
	return books, nil
}

// Search returns books whose title or author matches the query.
func (r *BookRepository) Search(ctx context.Context, query string) ([]db.Book, error) {
	var books []db.Book
	pattern := "%" + query + "%"
	err := r.db.WithContext(ctx).
		Where("title LIKE ? OR author LIKE ?", pattern, pattern).
		Order("title ASC").
		Find(&books).Error
	if err != nil {
		r.log.Error("Failed to search books", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	return books, nil
}

// Get retrieves a book by ISBN.
func (r *BookRepository) Get(ctx context.Context, isbn string) (*db.Book, error) {
	var book db.Book
	err := r.db.WithContext(ctx).Where("isbn = ?", isbn).First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		r.log.Error("Failed to get book", zap.String("isbn", isbn), zap.Error(err))
		return nil, err
	}
	return &book, nil
}

// Create adds a new book to the catalog. The initial available quantity
// equals the total; afterwards only the ledger moves it.
func (r *BookRepository) Create(ctx context.Context, book *db.Book) error {
	var existing db.Book
	err := r.db.WithContext(ctx).Where("isbn = ?", book.ISBN).First(&existing).Error
	if err == nil {
		return ErrBookAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Error("Failed to check book existence", zap.String("isbn", book.ISBN), zap.Error(err))
		return err
	}

	book.QuantityAvailable = book.QuantityTotal
	if err := r.db.WithContext(ctx).Create(book).Error; err != nil {
		r.log.Error("Failed to create book", zap.String("isbn", book.ISBN), zap.Error(err))
		return err
	}

	r.log.Info("Book created", zap.String("isbn", book.ISBN), zap.String("title", book.Title))
	return nil
}

// UpdateMetadata updates a book's descriptive fields. Quantity columns are
// deliberately not updatable through this path.
func (r *BookRepository) UpdateMetadata(ctx context.Context, isbn string, book *db.Book) error {
	updates := map[string]interface{}{
		"title":            book.Title,
		"author":           book.Author,
		"language":         book.Language,
		"publication_date": book.PublicationDate,
		"description":      book.Description,
	}

	result := r.db.WithContext(ctx).Model(&db.Book{}).Where("isbn = ?", isbn).Updates(updates)
	if result.Error != nil {
		r.log.Error("Failed to update book", zap.String("isbn", isbn), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBookNotFound
	}

	r.log.Info("Book updated", zap.String("isbn", isbn))
	return nil
}

// Delete removes a book from the catalog. Books with active borrowings
// cannot be deleted, preserving referential integrity for the ledger.
func (r *BookRepository) Delete(ctx context.Context, isbn string) error {
	var active int64
	err := r.db.WithContext(ctx).Model(&db.Borrowing{}).
		Where("book_isbn = ? AND status = ?", isbn, db.BorrowingStatusActive).
		Count(&active).Error
	if err != nil {
		r.log.Error("Failed to count active borrowings", zap.String("isbn", isbn), zap.Error(err))
		return err
	}
	if active > 0 {
		return ErrBookHasActiveLoans
	}

	result := r.db.WithContext(ctx).Where("isbn = ?", isbn).Delete(&db.Book{})
	if result.Error != nil {
		r.log.Error("Failed to delete book", zap.String("isbn", isbn), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBookNotFound
	}

	r.log.Info("Book deleted", zap.String("isbn", isbn))
	return nil
}
