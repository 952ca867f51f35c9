// Package identity owns credential records: subjects identified by email and verified by password.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials indicates an unknown email or a password mismatch.
	ErrInvalidCredentials = errors.New("identity.invalid_credentials")
	// ErrSubjectNotFound indicates no subject exists for the supplied id.
	ErrSubjectNotFound = errors.New("identity.subject_not_found")
)

// dummyPasswordHash is compared against when the email is unknown so both paths cost one bcrypt run.
var dummyPasswordHash = mustHash("devhabit-timing-equaliser")

type subjectRecord struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	UserName           string    `gorm:"column:user_name;not null"`
	NormalizedUserName string    `gorm:"column:normalized_user_name;uniqueIndex;not null"`
	Email              string    `gorm:"column:email;not null"`
	NormalizedEmail    string    `gorm:"column:normalized_email;uniqueIndex;not null"`
	PasswordHash       string    `gorm:"column:password_hash;not null"`
	CreatedAtUTC       time.Time `gorm:"column:created_at_utc;not null"`
}

func (subjectRecord) TableName() string {
	return "identity_users"
}

// AutoMigrate creates the identity tables.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&subjectRecord{}); err != nil {
		return fmt.Errorf("identity.migrate: %w", err)
	}
	return nil
}

// Store persists subjects through whichever handle it was bound to, a pool or an open transaction.
type Store struct {
	db         *gorm.DB
	bcryptCost int
}

// NewStore binds a store to the supplied handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, bcryptCost: bcrypt.DefaultCost}
}

// WithBcryptCost returns a copy hashing at cost. Costs outside bcrypt's range keep the current value.
func (store *Store) WithBcryptCost(cost int) *Store {
	clone := *store
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		clone.bcryptCost = cost
	}
	return &clone
}

// Create validates and inserts a subject, returning its id.
// Business rule violations are reported as *ValidationError.
func (store *Store) Create(ctx context.Context, email string, name string, password string) (string, error) {
	trimmedEmail := strings.TrimSpace(email)
	trimmedName := strings.TrimSpace(name)

	validation := newValidationError()
	validateEmail(validation, trimmedEmail)
	validateUserName(validation, trimmedName)
	validatePassword(validation, password)
	if validation.HasErrors() {
		return "", validation
	}

	normalizedEmail := normalize(trimmedEmail)
	normalizedUserName := normalize(trimmedName)

	var emailCount int64
	if err := store.db.WithContext(ctx).Model(&subjectRecord{}).Where("normalized_email = ?", normalizedEmail).Count(&emailCount).Error; err != nil {
		return "", fmt.Errorf("identity.create: %w", err)
	}
	if emailCount > 0 {
		validation.Add(CodeDuplicateEmail, fmt.Sprintf("Email '%s' is already taken.", trimmedEmail))
	}
	var userNameCount int64
	if err := store.db.WithContext(ctx).Model(&subjectRecord{}).Where("normalized_user_name = ?", normalizedUserName).Count(&userNameCount).Error; err != nil {
		return "", fmt.Errorf("identity.create: %w", err)
	}
	if userNameCount > 0 {
		validation.Add(CodeDuplicateUserName, fmt.Sprintf("Username '%s' is already taken.", trimmedName))
	}
	if validation.HasErrors() {
		return "", validation
	}

	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), store.bcryptCost)
	if hashErr != nil {
		return "", fmt.Errorf("identity.create.hash: %w", hashErr)
	}
	subjectID, idErr := uuid.NewV7()
	if idErr != nil {
		return "", fmt.Errorf("identity.create.id: %w", idErr)
	}
	record := subjectRecord{
		ID:                 subjectID.String(),
		UserName:           trimmedName,
		NormalizedUserName: normalizedUserName,
		Email:              trimmedEmail,
		NormalizedEmail:    normalizedEmail,
		PasswordHash:       string(passwordHash),
		CreatedAtUTC:       time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			validation.Add(CodeDuplicateEmail, fmt.Sprintf("Email '%s' is already taken.", trimmedEmail))
			return "", validation
		}
		return "", fmt.Errorf("identity.create: %w", err)
	}
	return record.ID, nil
}

// Verify checks the password for the subject registered under email.
func (store *Store) Verify(ctx context.Context, email string, password string) (string, string, error) {
	var record subjectRecord
	err := store.db.WithContext(ctx).Where("normalized_email = ?", normalize(email)).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return "", "", ErrInvalidCredentials
		}
		return "", "", fmt.Errorf("identity.verify: %w", err)
	}
	if compareErr := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); compareErr != nil {
		return "", "", ErrInvalidCredentials
	}
	return record.ID, record.Email, nil
}

// Email returns the email registered for a subject.
func (store *Store) Email(ctx context.Context, subjectID string) (string, error) {
	var record subjectRecord
	err := store.db.WithContext(ctx).Select("email").Where("id = ?", subjectID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("identity.email: %w", ErrSubjectNotFound)
		}
		return "", fmt.Errorf("identity.email: %w", err)
	}
	return record.Email, nil
}

func normalize(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

func mustHash(secret string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}
