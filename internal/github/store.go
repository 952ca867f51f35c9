// Package github stores users' GitHub personal access tokens encrypted at rest
// and proxies profile lookups made with them.
package github

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTokenNotFound indicates the user has no stored, unexpired token.
var ErrTokenNotFound = errors.New("github.token_not_found")

// AccessToken is a stored, still encrypted, personal access token.
type AccessToken struct {
	ID             string
	UserID         string
	EncryptedToken string
	ExpiresAtUTC   time.Time
	CreatedAtUTC   time.Time
}

type accessTokenRecord struct {
	ID             string    `gorm:"column:id;primaryKey"`
	UserID         string    `gorm:"column:user_id;uniqueIndex;not null"`
	EncryptedToken string    `gorm:"column:encrypted_token;not null"`
	ExpiresAtUTC   time.Time `gorm:"column:expires_at_utc;not null"`
	CreatedAtUTC   time.Time `gorm:"column:created_at_utc;not null"`
}

func (accessTokenRecord) TableName() string {
	return "github_access_tokens"
}

// AutoMigrate creates the GitHub token table.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&accessTokenRecord{}); err != nil {
		return fmt.Errorf("github.migrate: %w", err)
	}
	return nil
}

// Store persists one token per user.
type Store struct {
	db *gorm.DB
}

// NewStore binds a store to the supplied handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert stores the encrypted token, replacing any previous token for the user.
func (store *Store) Upsert(ctx context.Context, userID string, encryptedToken string, expiresAt time.Time) error {
	recordID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("github.store.upsert: %w", err)
	}
	record := accessTokenRecord{
		ID:             "gh_" + recordID.String(),
		UserID:         userID,
		EncryptedToken: encryptedToken,
		ExpiresAtUTC:   expiresAt.UTC(),
		CreatedAtUTC:   time.Now().UTC(),
	}
	err = store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_token", "expires_at_utc"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("github.store.upsert: %w", err)
	}
	return nil
}

// Find returns the user's stored token regardless of expiry.
func (store *Store) Find(ctx context.Context, userID string) (AccessToken, error) {
	var record accessTokenRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AccessToken{}, ErrTokenNotFound
		}
		return AccessToken{}, fmt.Errorf("github.store.find: %w", err)
	}
	return AccessToken{
		ID:             record.ID,
		UserID:         record.UserID,
		EncryptedToken: record.EncryptedToken,
		ExpiresAtUTC:   record.ExpiresAtUTC.UTC(),
		CreatedAtUTC:   record.CreatedAtUTC.UTC(),
	}, nil
}

// Delete removes the user's token. Deleting a missing token is not an error.
func (store *Store) Delete(ctx context.Context, userID string) error {
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&accessTokenRecord{}).Error; err != nil {
		return fmt.Errorf("github.store.delete: %w", err)
	}
	return nil
}
