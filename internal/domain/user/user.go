package user

import (
	"errors"
	"time"
)

const RoleAdmin = "admin"

var ErrNotFound = errors.New("user not found")

// User is a dashboard operator. Registrants are not users.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
