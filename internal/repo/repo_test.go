package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bookhive/bookhive/internal/db"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	return database
}

func createTestBook(t *testing.T, database *db.DB, isbn string, quantity int) {
	book := db.Book{
		ISBN:              isbn,
		Title:             "Title " + isbn,
		Author:            "Author " + isbn,
		QuantityTotal:     quantity,
		QuantityAvailable: quantity,
	}
	require.NoError(t, database.Create(&book).Error)
}

func createTestUser(t *testing.T, database *db.DB, email, role string) int64 {
	user := db.User{
		FirstName:    "First",
		LastName:     "Last",
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
	}
	require.NoError(t, database.Create(&user).Error)
	return user.ID
}

func createTestBorrowing(t *testing.T, database *db.DB, isbn string, userID int64, status string) int64 {
	borrowing := db.Borrowing{
		BookISBN:   isbn,
		UserID:     userID,
		Status:     status,
		BorrowedAt: time.Now().UTC(),
	}
	if status == db.BorrowingStatusReturned {
		now := time.Now().UTC()
		borrowing.ReturnedAt = &now
	}
	require.NoError(t, database.Create(&borrowing).Error)
	return borrowing.ID
}
