package repo

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/db"
)

// ErrNotificationNotFound is returned when a notification does not exist or
// belongs to another user.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository handles in-app notifications.
type NotificationRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(database *db.DB, log *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:  database,
		log: log,
	}
}

// ListForUser returns a user's notifications, newest first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID int64) ([]db.Notification, error) {
	var notifications []db.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&notifications).Error
	if err != nil {
		r.log.Error("Failed to list notifications", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	return notifications, nil
}

// UnreadCount returns how many unread notifications a user has.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		r.log.Error("Failed to count unread notifications", zap.Int64("user_id", userID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// MarkRead marks one of the user's notifications as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID, userID int64) error {
	result := r.db.WithContext(ctx).Model(&db.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if result.Error != nil {
		r.log.Error("Failed to mark notification read", zap.Int64("id", notificationID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read and
// returns how many were updated.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&db.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		r.log.Error("Failed to mark all notifications read", zap.Int64("user_id", userID), zap.Error(result.Error))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CreateForUsers fans one message out to every given user in a single batch.
func (r *NotificationRepository) CreateForUsers(ctx context.Context, userIDs []int64, bookISBN, message string) error {
	if len(userIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	notifications := make([]db.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		notifications = append(notifications, db.Notification{
			UserID:    userID,
			BookISBN:  bookISBN,
			Message:   message,
			CreatedAt: now,
		})
	}

	if err := r.db.WithContext(ctx).Create(&notifications).Error; err != nil {
		r.log.Error("Failed to create notifications", zap.Int("count", len(userIDs)), zap.Error(err))
		return err
	}

	r.log.Info("Notifications created", zap.Int("count", len(userIDs)), zap.String("book_isbn", bookISBN))
	return nil
}
