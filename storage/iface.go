package storage

import (
	"context"
	"errors"
	"time"
)

// User mirrors an identity at the provider, keyed by its subject.
type User struct {
	ID        string
	OPSub     string
	Email     *string
	Name      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is a stored login. AccessToken and RefreshToken hold ciphertext;
// the storage layer never sees them in the clear. IDToken is stored as-is.
type Session struct {
	ID             string
	UserID         string
	OPSessionID    *string
	AccessToken    string
	RefreshToken   *string
	IDToken        string
	TokenExpiresAt time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// Storage is the row-level interface the session store persists through.
// Implementations do not apply session validity rules; they return whatever
// is stored.
type Storage interface {
	// GetUser returns the user with the given ID, or an IsNotFoundErr.
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserBySub returns the user with the given subject, or an
	// IsNotFoundErr.
	GetUserBySub(ctx context.Context, sub string) (*User, error)
	// CreateUser inserts a new user. If a user with the same subject exists,
	// an IsConflictErr is returned.
	CreateUser(ctx context.Context, u *User) error
	// UpdateUser overwrites the email, name and updated_at of an existing
	// user, or returns an IsNotFoundErr.
	UpdateUser(ctx context.Context, u *User) error

	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns the session with the given ID, or an
	// IsNotFoundErr.
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetSessionWithUser returns the session and its owning user, or an
	// IsNotFoundErr.
	GetSessionWithUser(ctx context.Context, id string) (*Session, *User, error)
	// RevokeSession records at as the revocation time. A session that is
	// already revoked keeps its original time. Unknown IDs are not an error.
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

type errNotFound interface {
	NotFoundErr()
}

// IsNotFoundErr checks to see if the passed error is because the item was not
// found, as opposed to an actual error state. Errors comply to this if they
// have an `NotFoundErr()` method.
func IsNotFoundErr(err error) bool {
	var e errNotFound
	return errors.As(err, &e)
}

type errConflict interface {
	ConflictErr()
}

// IsConflictErr checks to see if the passed error occurred because of a
// uniqueness conflict. Errors comply to this if they have a `ConflictErr()`
// method
func IsConflictErr(err error) bool {
	var e errConflict
	return errors.As(err, &e)
}
