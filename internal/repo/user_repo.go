package repo

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookhive/bookhive/internal/db"
)

var (
	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering with an email already in use.
	ErrEmailTaken = errors.New("email already registered")
)

// UserRepository handles user accounts.
type UserRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(database *db.DB, log *zap.Logger) *UserRepository {
	return &UserRepository{
		db:  database,
		log: log,
	}
}

// Create registers a new user.
func (r *UserRepository) Create(ctx context.Context, user *db.User) error {
	var existing db.User
	err := r.db.WithContext(ctx).Where("email = ?", user.Email).First(&existing).Error
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Error("Failed to check email", zap.String("email", user.Email), zap.Error(err))
		return err
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		r.log.Error("Failed to create user", zap.String("email", user.Email), zap.Error(err))
		return err
	}

	r.log.Info("User registered", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	return nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to get user by email", zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to get user", zap.Int64("user_id", id), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// List returns all users.
func (r *UserRepository) List(ctx context.Context) ([]db.User, error) {
	var users []db.User
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		r.log.Error("Failed to list users", zap.Error(err))
		return nil, err
	}
	return users, nil
}

// ListIDsByRole returns the ids of every user with the given role. Used by
// the notification fan-out.
func (r *UserRepository) ListIDsByRole(ctx context.Context, role string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&db.User{}).
		Where("role = ?", role).
		Pluck("id", &ids).Error
	if err != nil {
		r.log.Error("Failed to list user ids", zap.String("role", role), zap.Error(err))
		return nil, err
	}
	return ids, nil
}

// UpdateProfile updates a user's profile fields.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, firstName, lastName, phone string) error {
	result := r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"first_name": firstName,
		"last_name":  lastName,
		"phone":      phone,
	})
	if result.Error != nil {
		r.log.Error("Failed to update profile", zap.Int64("user_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces a user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result := r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		r.log.Error("Failed to update password", zap.Int64("user_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	r.log.Info("Password changed", zap.Int64("user_id", id))
	return nil
}

// Delete removes a user account.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&db.User{}, id)
	if result.Error != nil {
		r.log.Error("Failed to delete user", zap.Int64("user_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	r.log.Info("User deleted", zap.Int64("user_id", id))
	return nil
}
