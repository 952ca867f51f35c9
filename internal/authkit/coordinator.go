package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/devhabit/devhabit/internal/identity"
	"github.com/devhabit/devhabit/internal/profiles"
	"gorm.io/gorm"
)

var errNilTransactionFunc = errors.New("coordinator.nil_func")

// RepositoryManager vends stores bound to a handle, either the root pool or an open transaction.
type RepositoryManager interface {
	Credentials(db *gorm.DB) CredentialStore
	Profiles(db *gorm.DB) ProfileStore
	RefreshTokens(db *gorm.DB) RefreshTokenStore
}

// Stores groups the stores bound to one handle.
type Stores struct {
	Credentials   CredentialStore
	Profiles      ProfileStore
	RefreshTokens RefreshTokenStore
}

// GormRepositoryManager builds the concrete gorm-backed stores.
type GormRepositoryManager struct {
	// BcryptCost overrides the password hashing cost when set.
	BcryptCost int
}

// Credentials returns the identity store bound to db.
func (manager GormRepositoryManager) Credentials(db *gorm.DB) CredentialStore {
	store := identity.NewStore(db)
	if manager.BcryptCost != 0 {
		store = store.WithBcryptCost(manager.BcryptCost)
	}
	return store
}

// Profiles returns the profile store bound to db.
func (GormRepositoryManager) Profiles(db *gorm.DB) ProfileStore {
	return profiles.NewStore(db)
}

// RefreshTokens returns the refresh token store bound to db.
func (GormRepositoryManager) RefreshTokens(db *gorm.DB) RefreshTokenStore {
	return NewDatabaseRefreshTokenStore(db)
}

// AutoMigrate creates every table the coordinator's stores touch.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	migrations := []func(context.Context, *gorm.DB) error{
		identity.AutoMigrate,
		profiles.AutoMigrate,
		AutoMigrateRefreshTokens,
	}
	for _, migrate := range migrations {
		if err := migrate(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// Coordinator runs multi-store units of work inside a single database transaction.
// Identity and application tables share one database, so one transaction covers both.
type Coordinator struct {
	db      *gorm.DB
	manager RepositoryManager
}

// NewCoordinator binds the coordinator to the root handle.
func NewCoordinator(db *gorm.DB, manager RepositoryManager) *Coordinator {
	if manager == nil {
		manager = GormRepositoryManager{}
	}
	return &Coordinator{db: db, manager: manager}
}

// Stores returns stores bound to the root handle, for flows that need no transaction.
func (coordinator *Coordinator) Stores() Stores {
	return coordinator.bind(coordinator.db)
}

// WithinTransaction commits only when fn returns nil and ctx is still live.
// An error, a panic, or a cancelled context rolls everything back; panics are re-raised after rollback.
func (coordinator *Coordinator) WithinTransaction(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if fn == nil {
		return errNilTransactionFunc
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("coordinator.begin: %w", err)
	}
	return coordinator.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ctx, coordinator.bind(tx)); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("coordinator.commit: %w", err)
		}
		return nil
	})
}

func (coordinator *Coordinator) bind(db *gorm.DB) Stores {
	return Stores{
		Credentials:   coordinator.manager.Credentials(db),
		Profiles:      coordinator.manager.Profiles(db),
		RefreshTokens: coordinator.manager.RefreshTokens(db),
	}
}
