package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pardot/rp/storage"
)

var _ storage.Storage = (*Storage)(nil)

// Storage is an in-memory implementation of storage.Storage. It should only be
// used for testing or similar. All data will be lost when the process ends.
type Storage struct {
	sync.Mutex
	users    map[string]storage.User
	bySub    map[string]string
	sessions map[string]storage.Session
}

func New() *Storage {
	return &Storage{
		users:    make(map[string]storage.User),
		bySub:    make(map[string]string),
		sessions: make(map[string]storage.Session),
	}
}

func (s *Storage) GetUser(_ context.Context, id string) (*storage.User, error) {
	s.Lock()
	defer s.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, &errNotFound{fmt.Errorf("user %s not found", id)}
	}
	return &u, nil
}

func (s *Storage) GetUserBySub(_ context.Context, sub string) (*storage.User, error) {
	s.Lock()
	defer s.Unlock()

	id, ok := s.bySub[sub]
	if !ok {
		return nil, &errNotFound{fmt.Errorf("user with sub %s not found", sub)}
	}
	u := s.users[id]
	return &u, nil
}

func (s *Storage) CreateUser(_ context.Context, u *storage.User) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.bySub[u.OPSub]; ok {
		return &errConflict{fmt.Errorf("user with sub %s already exists", u.OPSub)}
	}
	if _, ok := s.users[u.ID]; ok {
		return &errConflict{fmt.Errorf("user %s already exists", u.ID)}
	}
	s.users[u.ID] = *u
	s.bySub[u.OPSub] = u.ID
	return nil
}

func (s *Storage) UpdateUser(_ context.Context, u *storage.User) error {
	s.Lock()
	defer s.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return &errNotFound{fmt.Errorf("user %s not found", u.ID)}
	}
	existing.Email = u.Email
	existing.Name = u.Name
	existing.UpdatedAt = u.UpdatedAt
	s.users[u.ID] = existing
	return nil
}

func (s *Storage) CreateSession(_ context.Context, sess *storage.Session) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.users[sess.UserID]; !ok {
		return fmt.Errorf("session %s references unknown user %s", sess.ID, sess.UserID)
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return &errConflict{fmt.Errorf("session %s already exists", sess.ID)}
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Storage) GetSession(_ context.Context, id string) (*storage.Session, error) {
	s.Lock()
	defer s.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &errNotFound{fmt.Errorf("session %s not found", id)}
	}
	return &sess, nil
}

func (s *Storage) GetSessionWithUser(_ context.Context, id string) (*storage.Session, *storage.User, error) {
	s.Lock()
	defer s.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, &errNotFound{fmt.Errorf("session %s not found", id)}
	}
	u, ok := s.users[sess.UserID]
	if !ok {
		return nil, nil, &errNotFound{fmt.Errorf("user %s for session %s not found", sess.UserID, id)}
	}
	return &sess, &u, nil
}

func (s *Storage) RevokeSession(_ context.Context, id string, at time.Time) error {
	s.Lock()
	defer s.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return nil
	}
	sess.RevokedAt = &at
	s.sessions[id] = sess
	return nil
}

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}

type errConflict struct {
	error
}

func (*errConflict) ConflictErr() {}
