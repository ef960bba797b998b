package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/pkg/logger"
)

func TestCreateForUsersAndList(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	notifications := NewNotificationRepository(database, log)

	ctx := context.Background()
	userA := createTestUser(t, database, "a@example.com", db.RoleReader)
	userB := createTestUser(t, database, "b@example.com", db.RoleReader)

	err := notifications.CreateForUsers(ctx, []int64{userA, userB}, "978-3-0001", "New book available")
	require.NoError(t, err)

	rows, err := notifications.ListForUser(ctx, userA)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "978-3-0001", rows[0].BookISBN)
	assert.Equal(t, "New book available", rows[0].Message)
	assert.False(t, rows[0].IsRead)

	rows, err = notifications.ListForUser(ctx, userB)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreateForUsersEmpty(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	notifications := NewNotificationRepository(database, log)

	require.NoError(t, notifications.CreateForUsers(context.Background(), nil, "978-3-0002", "unused"))
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	notifications := NewNotificationRepository(database, log)

	ctx := context.Background()
	userID := createTestUser(t, database, "reader@example.com", db.RoleReader)

	require.NoError(t, notifications.CreateForUsers(ctx, []int64{userID}, "978-3-0003", "first"))
	require.NoError(t, notifications.CreateForUsers(ctx, []int64{userID}, "978-3-0004", "second"))

	count, err := notifications.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	rows, err := notifications.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, notifications.MarkRead(ctx, rows[0].ID, userID))

	count, err = notifications.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkReadWrongUser(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	notifications := NewNotificationRepository(database, log)

	ctx := context.Background()
	owner := createTestUser(t, database, "owner@example.com", db.RoleReader)
	other := createTestUser(t, database, "other@example.com", db.RoleReader)

	require.NoError(t, notifications.CreateForUsers(ctx, []int64{owner}, "978-3-0005", "private"))

	rows, err := notifications.ListForUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	err = notifications.MarkRead(ctx, rows[0].ID, other)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	count, err := notifications.UnreadCount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkReadNotFound(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	notifications := NewNotificationRepository(database, log)

	userID := createTestUser(t, database, "reader@example.com", db.RoleReader)

	err := notifications.MarkRead(context.Background(), 9999, userID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestMarkAllRead(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	notifications := NewNotificationRepository(database, log)

	ctx := context.Background()
	userID := createTestUser(t, database, "reader@example.com", db.RoleReader)

	require.NoError(t, notifications.CreateForUsers(ctx, []int64{userID}, "978-3-0006", "one"))
	require.NoError(t, notifications.CreateForUsers(ctx, []int64{userID}, "978-3-0007", "two"))
	require.NoError(t, notifications.CreateForUsers(ctx, []int64{userID}, "978-3-0008", "three"))

	updated, err := notifications.MarkAllRead(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)

	count, err := notifications.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Already read, nothing left to update.
	updated, err = notifications.MarkAllRead(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated)
}
