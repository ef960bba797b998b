package db

import (
	"time"
)

// User roles.
const (
	RoleAdmin  = "admin"
	RoleReader = "reader"
)

// Borrowing statuses. A borrowing is either currently held or returned
// history; cancellation deletes the row instead of adding a third status.
const (
	BorrowingStatusActive   = "active"
	BorrowingStatusReturned = "returned"
)

// User represents an account, either a reader or an administrator.
type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	FirstName    string    `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName     string    `gorm:"type:varchar(100);not null" json:"last_name"`
	Email        string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_email" json:"email"`
	Phone        string    `gorm:"type:varchar(30)" json:"phone,omitempty"`
	CIN          string    `gorm:"column:cin;type:varchar(30)" json:"cin,omitempty"`
	PasswordHash string    `gorm:"type:varchar(100);not null" json:"-"`
	Role         string    `gorm:"type:varchar(20);not null;default:'reader';index:idx_users_role" json:"role"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for the User model.
func (User) TableName() string {
	return "users"
}

// Book is a catalog entry with a finite lending stock. Metadata fields are
// owned by the catalog; the two quantity columns are mutated only by the
// lending ledger.
type Book struct {
	ISBN              string    `gorm:"column:isbn;primaryKey;type:varchar(20)" json:"isbn"`
	Title             string    `gorm:"type:varchar(255);not null;index:idx_books_title" json:"title"`
	Author            string    `gorm:"type:varchar(255);not null;index:idx_books_author" json:"author"`
	Language          string    `gorm:"type:varchar(50)" json:"language,omitempty"`
	PublicationDate   string    `gorm:"type:varchar(10)" json:"publication_date,omitempty"`
	Description       string    `gorm:"type:text" json:"description,omitempty"`
	QuantityTotal     int       `gorm:"not null" json:"quantity_total"`
	QuantityAvailable int       `gorm:"not null" json:"quantity_available"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for the Book model.
func (Book) TableName() string {
	return "books"
}

// Borrowing records one user holding one copy of one book. Active rows count
// against the book's available quantity; returned rows are immutable history.
type Borrowing struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	BookISBN   string     `gorm:"column:book_isbn;type:varchar(20);not null;index:idx_borrowings_book_user_status,priority:1" json:"book_isbn"`
	UserID     int64      `gorm:"not null;index:idx_borrowings_book_user_status,priority:2" json:"user_id"`
	Status     string     `gorm:"type:varchar(20);not null;default:'active';index:idx_borrowings_book_user_status,priority:3" json:"status"`
	BorrowedAt time.Time  `gorm:"not null" json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

// TableName specifies the table name for the Borrowing model.
func (Borrowing) TableName() string {
	return "borrowings"
}

// Notification is an in-app message shown to a reader, optionally tied to a
// book (new title added, title back in stock).
type Notification struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"not null;index:idx_notifications_user_read,priority:1" json:"user_id"`
	BookISBN  string    `gorm:"column:book_isbn;type:varchar(20)" json:"book_isbn,omitempty"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	IsRead    bool      `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2" json:"is_read"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName specifies the table name for the Notification model.
func (Notification) TableName() string {
	return "notifications"
}
