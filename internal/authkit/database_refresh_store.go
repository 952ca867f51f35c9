package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DatabaseRefreshTokenStore persists rotating refresh tokens using GORM.
// Only the SHA-256 hash of each token value is stored.
type DatabaseRefreshTokenStore struct {
	db *gorm.DB
}

type refreshTokenRow struct {
	ID           string     `gorm:"column:id;primaryKey"`
	UserID       string     `gorm:"column:user_id;index;not null"`
	TokenHash    string     `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresAtUTC time.Time  `gorm:"column:expires_at_utc;not null"`
	CreatedAtUTC time.Time  `gorm:"column:created_at_utc;not null"`
	RotatedAtUTC *time.Time `gorm:"column:rotated_at_utc"`
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

func (row refreshTokenRow) toRecord() RefreshTokenRecord {
	return RefreshTokenRecord{
		ID:           row.ID,
		UserID:       row.UserID,
		TokenHash:    row.TokenHash,
		ExpiresAtUTC: row.ExpiresAtUTC.UTC(),
		CreatedAtUTC: row.CreatedAtUTC.UTC(),
		RotatedAtUTC: row.RotatedAtUTC,
	}
}

// AutoMigrateRefreshTokens creates the refresh token table.
func AutoMigrateRefreshTokens(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&refreshTokenRow{}); err != nil {
		return fmt.Errorf("refresh_store.migrate: %w", err)
	}
	return nil
}

// NewDatabaseRefreshTokenStore binds a store to the supplied handle, a pool or an open transaction.
func NewDatabaseRefreshTokenStore(db *gorm.DB) *DatabaseRefreshTokenStore {
	return &DatabaseRefreshTokenStore{db: db}
}

// Create inserts a new refresh token chain for the subject.
func (store *DatabaseRefreshTokenStore) Create(ctx context.Context, subjectID string, tokenValue string, expiresAt time.Time) (RefreshTokenRecord, error) {
	if strings.TrimSpace(tokenValue) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create: %w", ErrRefreshTokenEmptyOpaque)
	}
	tokenID, idErr := newRefreshTokenID()
	if idErr != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create: %w", idErr)
	}
	row := refreshTokenRow{
		ID:           tokenID,
		UserID:       subjectID,
		TokenHash:    hashOpaque(tokenValue),
		ExpiresAtUTC: expiresAt.UTC(),
		CreatedAtUTC: time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create: %w", err)
	}
	return row.toRecord(), nil
}

// FindByValue locates a refresh token by its opaque value. Expiry is left to the caller.
func (store *DatabaseRefreshTokenStore) FindByValue(ctx context.Context, tokenValue string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(tokenValue) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find: %w", ErrRefreshTokenEmptyOpaque)
	}
	var row refreshTokenRow
	err := store.db.WithContext(ctx).Where("token_hash = ?", hashOpaque(tokenValue)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find: %w", ErrRefreshTokenNotFound)
		}
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find: %w", err)
	}
	return row.toRecord(), nil
}

// Rotate replaces the token value of an existing row. The update only applies while the row still holds
// record.TokenHash, so of two concurrent rotations from the same value exactly one succeeds.
func (store *DatabaseRefreshTokenStore) Rotate(ctx context.Context, record RefreshTokenRecord, newTokenValue string, newExpiresAt time.Time) error {
	if strings.TrimSpace(newTokenValue) == "" {
		return fmt.Errorf("refresh_store.rotate: %w", ErrRefreshTokenEmptyOpaque)
	}
	rotatedAt := time.Now().UTC()
	result := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("id = ? AND token_hash = ?", record.ID, record.TokenHash).
		Updates(map[string]interface{}{
			"token_hash":     hashOpaque(newTokenValue),
			"expires_at_utc": newExpiresAt.UTC(),
			"rotated_at_utc": rotatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("refresh_store.rotate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("refresh_store.rotate: %w", ErrRefreshTokenStale)
	}
	return nil
}
