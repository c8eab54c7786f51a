package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lookout-server/internal/model"
)

// ErrUserNotFound is returned when no resolver matches an identity key.
var ErrUserNotFound = errors.New("user not found")

// UserResolver tries to resolve an opaque identity key to a user row.
// It returns found=false (with nil error) when the key does not match.
type UserResolver func(ctx context.Context, s *Store, key string) (model.User, bool, error)

// ResolveByID matches the internal user id.
func ResolveByID(ctx context.Context, s *Store, key string) (model.User, bool, error) {
	return s.lookupUser(ctx, `SELECT id, external_id, email FROM users WHERE id = ?`, key)
}

// ResolveByExternalID matches the directory object id.
func ResolveByExternalID(ctx context.Context, s *Store, key string) (model.User, bool, error) {
	return s.lookupUser(ctx, `SELECT id, external_id, email FROM users WHERE external_id = ?`, key)
}

// ResolveByEmail matches the user's email address.
func ResolveByEmail(ctx context.Context, s *Store, key string) (model.User, bool, error) {
	return s.lookupUser(ctx, `SELECT id, external_id, email FROM users WHERE email = ?`, key)
}

// ResolveUser tries each resolver in order and returns the first match.
// Callers pass the lookup strategies they accept for the key at hand, so
// the cascade lives here instead of repeating at every call site.
func (s *Store) ResolveUser(ctx context.Context, key string, resolvers ...UserResolver) (model.User, error) {
	if key == "" {
		return model.User{}, ErrUserNotFound
	}
	if len(resolvers) == 0 {
		resolvers = []UserResolver{ResolveByID, ResolveByExternalID, ResolveByEmail}
	}
	for _, resolve := range resolvers {
		user, found, err := resolve(ctx, s, key)
		if err != nil {
			return model.User{}, err
		}
		if found {
			return user, nil
		}
	}
	return model.User{}, ErrUserNotFound
}

func (s *Store) lookupUser(ctx context.Context, query, key string) (model.User, bool, error) {
	var user model.User
	err := s.db.QueryRowContext(ctx, query, key).Scan(&user.ID, &user.ExternalID, &user.Email)
	if err == sql.ErrNoRows {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("lookup user: %w", err)
	}
	return user, true, nil
}

// InsertUser provisions a directory row. The directory is owned by an
// external system in production; this exists for bootstrap and tests.
func (s *Store) InsertUser(ctx context.Context, user model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, email) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET external_id = excluded.external_id, email = excluded.email`,
		user.ID, user.ExternalID, user.Email,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
