package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/cimillas/ticket-reservations/internal/testutil"
	"github.com/google/uuid"
)

func TestUserRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewUserRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	newUser := func(email string) domain.User {
		now := time.Now().UTC()
		return domain.User{
			ID:        uuid.NewString(),
			Fullname:  "Ana Lopez",
			Nickname:  "ana",
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	t.Run("CreateUser then lookups", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		user := newUser("ana@example.com")
		if err := repo.CreateUser(ctx, user); err != nil {
			t.Fatalf("create: %v", err)
		}

		byID, err := repo.GetUserByID(ctx, user.ID)
		if err != nil || byID.Email != user.Email {
			t.Fatalf("get by id: %+v, %v", byID, err)
		}
		byEmail, err := repo.GetUserByEmail(ctx, user.Email)
		if err != nil || byEmail.ID != user.ID {
			t.Fatalf("get by email: %+v, %v", byEmail, err)
		}
	})

	t.Run("CreateUser rejects duplicate email", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		if err := repo.CreateUser(ctx, newUser("ana@example.com")); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := repo.CreateUser(ctx, newUser("ana@example.com"))
		var exists *domain.UserAlreadyExistsError
		if !errors.As(err, &exists) || exists.Email != "ana@example.com" {
			t.Fatalf("expected UserAlreadyExistsError, got %v", err)
		}
	})

	t.Run("lookups map missing users", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		if _, err := repo.GetUserByID(ctx, uuid.NewString()); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected UserNotFound, got %v", err)
		}
		if _, err := repo.GetUserByEmail(ctx, "ghost@example.com"); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected UserNotFound, got %v", err)
		}
		if _, err := repo.GetUserByID(ctx, "bad"); !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})
}
