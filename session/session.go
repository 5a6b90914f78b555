// Package session manages relying party sessions on top of a storage backend.
//
// A session is live from creation until it is revoked or its fixed lifetime
// passes, and unusable forever after. Validity is checked on every read;
// expired rows are never deleted.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pardot/rp/storage"
	"github.com/pardot/rp/tokencipher"
)

// DefaultLifetime is how long a session stays valid after creation. It is
// independent of the lifetime of the tokens it holds.
const DefaultLifetime = 24 * time.Hour

// ErrNotFound is returned for sessions that do not exist, are revoked or have
// expired. Callers cannot tell these apart.
var ErrNotFound = errors.New("session not found")

// Session is the decrypted view of a stored session.
type Session struct {
	ID             string
	UserID         string
	OPSessionID    *string
	AccessToken    string
	RefreshToken   *string
	IDToken        string
	TokenExpiresAt time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// CreateParams describes a session to be created.
type CreateParams struct {
	UserID         string
	OPSessionID    *string
	AccessToken    string
	RefreshToken   *string
	IDToken        string
	TokenExpiresAt time.Time
}

// UserInfo carries the identity attributes observed at login. Nil attributes
// leave any stored value alone.
type UserInfo struct {
	Sub   string
	Email *string
	Name  *string
}

// Store creates and reads sessions, encrypting tokens at rest.
type Store struct {
	storage storage.Storage
	cipher  *tokencipher.Cipher

	// Lifetime defaults to DefaultLifetime.
	Lifetime time.Duration

	now func() time.Time
}

// New returns a Store over s that encrypts tokens with c.
func New(s storage.Storage, c *tokencipher.Cipher) *Store {
	return &Store{
		storage:  s,
		cipher:   c,
		Lifetime: DefaultLifetime,
		now:      time.Now,
	}
}

// Create stores a new session and returns its decrypted view.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Session, error) {
	at, err := s.cipher.Encrypt(p.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}
	var rt *string
	if p.RefreshToken != nil {
		enc, err := s.cipher.Encrypt(*p.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
		rt = &enc
	}

	now := s.now()
	row := &storage.Session{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		OPSessionID:    p.OPSessionID,
		AccessToken:    at,
		RefreshToken:   rt,
		IDToken:        p.IDToken,
		TokenExpiresAt: p.TokenExpiresAt,
		ExpiresAt:      now.Add(s.lifetime()),
		CreatedAt:      now,
	}
	if err := s.storage.CreateSession(ctx, row); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	return &Session{
		ID:             row.ID,
		UserID:         row.UserID,
		OPSessionID:    row.OPSessionID,
		AccessToken:    p.AccessToken,
		RefreshToken:   p.RefreshToken,
		IDToken:        row.IDToken,
		TokenExpiresAt: row.TokenExpiresAt,
		ExpiresAt:      row.ExpiresAt,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// GetValid returns the session if it is neither revoked nor expired, with its
// tokens decrypted. Otherwise it returns ErrNotFound. A stored token that
// fails to decrypt is returned as an error, never as partial plaintext.
func (s *Store) GetValid(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	row, err := s.storage.GetSession(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return s.open(row)
}

// GetWithUser applies the same rule as GetValid and also returns the owning
// user.
func (s *Store) GetWithUser(ctx context.Context, id string) (*Session, *storage.User, error) {
	if !validID(id) {
		return nil, nil, ErrNotFound
	}
	row, u, err := s.storage.GetSessionWithUser(ctx, id)
	if err != nil {
		return nil, nil, notFound(err)
	}
	sess, err := s.open(row)
	if err != nil {
		return nil, nil, err
	}
	return sess, u, nil
}

// Revoke makes the session permanently unusable. Revoking an unknown or
// already revoked session is not an error.
func (s *Store) Revoke(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if err := s.storage.RevokeSession(ctx, id, s.now()); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// UpsertUser creates the user for info.Sub, or merges the non-nil attributes
// into the existing one.
func (s *Store) UpsertUser(ctx context.Context, info UserInfo) (*storage.User, error) {
	// a concurrent first login for the same sub may win the insert
	for attempt := 0; ; attempt++ {
		u, err := s.upsertUser(ctx, info)
		if err == nil {
			return u, nil
		}
		if !storage.IsConflictErr(err) || attempt > 0 {
			return nil, fmt.Errorf("upserting user: %w", err)
		}
	}
}

func (s *Store) upsertUser(ctx context.Context, info UserInfo) (*storage.User, error) {
	now := s.now()

	u, err := s.storage.GetUserBySub(ctx, info.Sub)
	if err != nil {
		if !storage.IsNotFoundErr(err) {
			return nil, err
		}
		u = &storage.User{
			ID:        uuid.NewString(),
			OPSub:     info.Sub,
			Email:     info.Email,
			Name:      info.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.storage.CreateUser(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}

	if info.Email != nil {
		u.Email = info.Email
	}
	if info.Name != nil {
		u.Name = info.Name
	}
	u.UpdatedAt = now
	if err := s.storage.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) open(row *storage.Session) (*Session, error) {
	if row.RevokedAt != nil || !row.ExpiresAt.After(s.now()) {
		return nil, ErrNotFound
	}

	at, err := s.cipher.Decrypt(row.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token of session %s: %w", row.ID, err)
	}
	var rt *string
	if row.RefreshToken != nil {
		dec, err := s.cipher.Decrypt(*row.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypting refresh token of session %s: %w", row.ID, err)
		}
		rt = &dec
	}

	return &Session{
		ID:             row.ID,
		UserID:         row.UserID,
		OPSessionID:    row.OPSessionID,
		AccessToken:    at,
		RefreshToken:   rt,
		IDToken:        row.IDToken,
		TokenExpiresAt: row.TokenExpiresAt,
		ExpiresAt:      row.ExpiresAt,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func (s *Store) lifetime() time.Duration {
	if s.Lifetime > 0 {
		return s.Lifetime
	}
	return DefaultLifetime
}

// validID filters identifiers that could never have been issued, so they do
// not reach the database as malformed uuid literals.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(err error) error {
	if storage.IsNotFoundErr(err) {
		return ErrNotFound
	}
	return err
}
