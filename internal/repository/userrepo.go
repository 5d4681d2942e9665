package repository

import (
	"context"

	"github.com/emberchat/ember-server/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository persists account records.
type UserRepository interface {
	// Create inserts a new user row.
	Create(ctx context.Context, u *model.User) error

	// GetByID selects a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// GetByUsername selects a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}
