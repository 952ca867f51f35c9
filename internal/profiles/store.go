// Package profiles owns the application-side user record linked to an identity subject.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrProfileNotFound is returned when no profile matches the lookup.
var ErrProfileNotFound = errors.New("profiles.not_found")

// Profile is the application's view of a registered user.
type Profile struct {
	ID           string
	IdentityID   string
	Email        string
	Name         string
	CreatedAtUTC time.Time
	UpdatedAtUTC *time.Time
}

type profileRecord struct {
	ID           string     `gorm:"column:id;primaryKey"`
	IdentityID   string     `gorm:"column:identity_id;uniqueIndex;not null"`
	Email        string     `gorm:"column:email;not null"`
	Name         string     `gorm:"column:name;not null"`
	CreatedAtUTC time.Time  `gorm:"column:created_at_utc;not null"`
	UpdatedAtUTC *time.Time `gorm:"column:updated_at_utc"`
}

func (profileRecord) TableName() string {
	return "users"
}

func (record profileRecord) toProfile() Profile {
	return Profile{
		ID:           record.ID,
		IdentityID:   record.IdentityID,
		Email:        record.Email,
		Name:         record.Name,
		CreatedAtUTC: record.CreatedAtUTC,
		UpdatedAtUTC: record.UpdatedAtUTC,
	}
}

// AutoMigrate creates the profile tables.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&profileRecord{}); err != nil {
		return fmt.Errorf("profiles.migrate: %w", err)
	}
	return nil
}

// Store reads and writes profiles through the handle it was bound to.
type Store struct {
	db *gorm.DB
}

// NewStore binds a store to the supplied handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts the profile for a freshly created identity and returns the profile id.
func (store *Store) Create(ctx context.Context, identityID string, email string, name string) (string, error) {
	profileID, idErr := newProfileID()
	if idErr != nil {
		return "", fmt.Errorf("profiles.create: %w", idErr)
	}
	record := profileRecord{
		ID:           profileID,
		IdentityID:   identityID,
		Email:        email,
		Name:         name,
		CreatedAtUTC: time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("profiles.create: %w", err)
	}
	return record.ID, nil
}

// FindByIdentityID returns the profile linked to an identity subject.
func (store *Store) FindByIdentityID(ctx context.Context, identityID string) (Profile, error) {
	return store.findWhere(ctx, "identity_id = ?", identityID)
}

// FindByID returns the profile with the given id.
func (store *Store) FindByID(ctx context.Context, profileID string) (Profile, error) {
	return store.findWhere(ctx, "id = ?", profileID)
}

func (store *Store) findWhere(ctx context.Context, condition string, value string) (Profile, error) {
	var record profileRecord
	err := store.db.WithContext(ctx).Where(condition, value).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, fmt.Errorf("profiles.find: %w", err)
	}
	return record.toProfile(), nil
}

func newProfileID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "u_" + value.String(), nil
}
