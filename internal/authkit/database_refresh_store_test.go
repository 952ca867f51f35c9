package authkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devhabit/devhabit/internal/database/databasetest"
)

func newTestRefreshStore(t *testing.T) *DatabaseRefreshTokenStore {
	t.Helper()
	return NewDatabaseRefreshTokenStore(databasetest.Open(t, AutoMigrateRefreshTokens))
}

func TestDatabaseRefreshTokenStoreLifecycle(t *testing.T) {
	store := newTestRefreshStore(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(10 * time.Minute).Truncate(time.Second)

	created, createErr := store.Create(ctx, "user-123", "opaque-one", expiry)
	if createErr != nil {
		t.Fatalf("create error: %v", createErr)
	}
	if created.ID == "" || created.TokenHash == "" {
		t.Fatalf("expected id and hash, got %#v", created)
	}
	if created.TokenHash == "opaque-one" {
		t.Fatalf("token value stored in clear")
	}

	found, findErr := store.FindByValue(ctx, "opaque-one")
	if findErr != nil {
		t.Fatalf("find error: %v", findErr)
	}
	if found.ID != created.ID || found.UserID != "user-123" {
		t.Fatalf("unexpected record %#v", found)
	}
	if !found.ExpiresAtUTC.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, found.ExpiresAtUTC)
	}
	if found.RotatedAtUTC != nil {
		t.Fatalf("fresh record should not be rotated")
	}

	newExpiry := expiry.Add(time.Hour)
	if rotateErr := store.Rotate(ctx, found, "opaque-two", newExpiry); rotateErr != nil {
		t.Fatalf("rotate error: %v", rotateErr)
	}

	if _, oldErr := store.FindByValue(ctx, "opaque-one"); !errors.Is(oldErr, ErrRefreshTokenNotFound) {
		t.Fatalf("expected old value to be gone, got %v", oldErr)
	}
	rotated, rotatedErr := store.FindByValue(ctx, "opaque-two")
	if rotatedErr != nil {
		t.Fatalf("find rotated error: %v", rotatedErr)
	}
	if rotated.ID != created.ID {
		t.Fatalf("rotation must keep the row id, got %s want %s", rotated.ID, created.ID)
	}
	if !rotated.ExpiresAtUTC.Equal(newExpiry) {
		t.Fatalf("expected rotated expiry %v, got %v", newExpiry, rotated.ExpiresAtUTC)
	}
	if rotated.RotatedAtUTC == nil {
		t.Fatalf("expected rotated timestamp")
	}
}

func TestDatabaseRefreshTokenStoreRotateStaleRecord(t *testing.T) {
	store := newTestRefreshStore(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour)

	record, err := store.Create(ctx, "user-123", "opaque-one", expiry)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := store.Rotate(ctx, record, "opaque-two", expiry); err != nil {
		t.Fatalf("first rotate error: %v", err)
	}
	if err := store.Rotate(ctx, record, "opaque-three", expiry); !errors.Is(err, ErrRefreshTokenStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if _, err := store.FindByValue(ctx, "opaque-three"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("stale rotation must not write, got %v", err)
	}
}

func TestDatabaseRefreshTokenStoreEmptyValues(t *testing.T) {
	store := newTestRefreshStore(t)
	ctx := context.Background()

	if _, err := store.FindByValue(ctx, "  "); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
		t.Fatalf("expected empty opaque error on find, got %v", err)
	}
	if _, err := store.Create(ctx, "user-123", "", time.Now()); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
		t.Fatalf("expected empty opaque error on create, got %v", err)
	}
	if err := store.Rotate(ctx, RefreshTokenRecord{ID: "missing"}, "", time.Now()); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
		t.Fatalf("expected empty opaque error on rotate, got %v", err)
	}
}

func TestDatabaseRefreshTokenStoreUnknownValue(t *testing.T) {
	store := newTestRefreshStore(t)
	if _, err := store.FindByValue(context.Background(), "never-issued"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
