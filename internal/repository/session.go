package repository

import "context"

// SessionRepository persists the refresh token of the current session
// so it survives restarts. Reports are never persisted locally; this is
// the only local storage in the program.
type SessionRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, refreshToken string) error
	// Load returns the stored refresh token, or "" when none is stored.
	Load(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}
