package db

import (
	"gorm.io/gorm"
)

// RunMigrations migrates all models and creates the indexes the lending
// ledger relies on.
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&User{}, &Book{}, &Borrowing{}, &Notification{}); err != nil {
		return err
	}

	return createIndexes(db.DB)
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// At most one active borrowing per (book, user) pair. The ledger also
		// checks this inside its transaction; the index makes the rule hold
		// even against writers that bypass the ledger.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrowings_one_active
		 ON borrowings(book_isbn, user_id) WHERE status = 'active'`,

		// Borrow-history listings sort newest first.
		`CREATE INDEX IF NOT EXISTS idx_borrowings_borrowed_at ON borrowings(borrowed_at)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
