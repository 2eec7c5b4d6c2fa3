package domain

import "time"

type User struct {
	ID        string
	Fullname  string
	Nickname  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
