package app

import (
	"context"
	"strings"

	"github.com/cimillas/ticket-reservations/internal/clock"
	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/go-playground/validator/v10"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

type UserService struct {
	repo     UserRepository
	clock    clock.Clock
	validate *validator.Validate
}

func NewUserService(repo UserRepository, clk clock.Clock) *UserService {
	return &UserService{repo: repo, clock: clk, validate: validator.New()}
}

type CreateUserInput struct {
	Fullname string
	Nickname string
	Email    string
}

// CreateUser registers a user. Emails are compared case-insensitively.
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if in.Fullname == "" || in.Nickname == "" {
		return domain.User{}, domain.ErrInvalidUser
	}
	if err := s.validate.Var(email, "required,email,max=255"); err != nil {
		return domain.User{}, domain.ErrInvalidUser
	}

	now := s.clock.Now()
	user := domain.User{
		ID:        newID(),
		Fullname:  in.Fullname,
		Nickname:  in.Nickname,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (domain.User, error) {
	if id == "" {
		return domain.User{}, domain.ErrInvalidID
	}
	return s.repo.GetUserByID(ctx, id)
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}
