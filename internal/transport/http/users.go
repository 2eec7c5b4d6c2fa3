package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cimillas/ticket-reservations/internal/app"
	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UserService is the minimal interface needed for user endpoints.
type UserService interface {
	CreateUser(ctx context.Context, in app.CreateUserInput) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

type createUserRequest struct {
	Fullname string `json:"fullname" validate:"required,max=255"`
	Nickname string `json:"nickname" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Fullname  string    `json:"fullname"`
	Nickname  string    `json:"nickname"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Fullname:  u.Fullname,
		Nickname:  u.Nickname,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func HandleCreateUser(svc UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if !decodeBody(w, r, &req) {
			return
		}

		user, err := svc.CreateUser(r.Context(), app.CreateUserInput{
			Fullname: req.Fullname,
			Nickname: req.Nickname,
			Email:    req.Email,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, newUserResponse(user))
	}
}

func HandleGetUser(svc UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := svc.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	}
}
