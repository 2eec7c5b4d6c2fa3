package postgres

import (
	"context"
	"errors"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	conn
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{conn: conn{pool: pool}}
}

func (r *UserRepository) CreateUser(ctx context.Context, user domain.User) error {
	const stmt = `
INSERT INTO users (id, fullname, nickname, email, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.exec(ctx, stmt, user.ID, user.Fullname, user.Nickname, user.Email, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.UserAlreadyExistsError{Email: user.Email}
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return domain.External("create user", err)
	}
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	const query = `
SELECT id, fullname, nickname, email, created_at, updated_at
FROM users
WHERE id = $1 AND deleted_at IS NULL`
	u, err := scanUser(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.User{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, &domain.UserNotFoundError{UserID: id}
		}
		return domain.User{}, domain.External("get user", err)
	}
	return u, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `
SELECT id, fullname, nickname, email, created_at, updated_at
FROM users
WHERE email = $1 AND deleted_at IS NULL`
	u, err := scanUser(r.queryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, &domain.UserNotFoundError{Email: email}
		}
		return domain.User{}, domain.External("get user by email", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Fullname, &u.Nickname, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
