package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// Test runs the conformance suite against s. Every subtest uses fresh IDs, so
// the suite can run against a shared database.
func Test(ctx context.Context, t *testing.T, s Storage) {
	t.Run("testUserNotFound", func(t *testing.T) { testUserNotFound(ctx, t, s) })
	t.Run("testCreateGetUser", func(t *testing.T) { testCreateGetUser(ctx, t, s) })
	t.Run("testDuplicateSub", func(t *testing.T) { testDuplicateSub(ctx, t, s) })
	t.Run("testUpdateUser", func(t *testing.T) { testUpdateUser(ctx, t, s) })
	t.Run("testSessionNotFound", func(t *testing.T) { testSessionNotFound(ctx, t, s) })
	t.Run("testCreateGetSession", func(t *testing.T) { testCreateGetSession(ctx, t, s) })
	t.Run("testSessionWithUser", func(t *testing.T) { testSessionWithUser(ctx, t, s) })
	t.Run("testRevoke", func(t *testing.T) { testRevoke(ctx, t, s) })
}

// storedTime is a timestamp at the precision every backend keeps.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func strp(s string) *string { return &s }

func newUser(t *testing.T, ctx context.Context, s Storage) *User {
	t.Helper()
	now := storedTime(time.Now())
	u := &User{
		ID:        uuid.NewString(),
		OPSub:     "sub-" + uuid.NewString(),
		Email:     strp("user@example.com"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	return u
}

func newSession(t *testing.T, ctx context.Context, s Storage, u *User) *Session {
	t.Helper()
	now := storedTime(time.Now())
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		OPSessionID:    strp("op-sid"),
		AccessToken:    "00:11:22",
		IDToken:        "header.payload.signature",
		TokenExpiresAt: now.Add(time.Hour),
		ExpiresAt:      now.Add(24 * time.Hour),
		CreatedAt:      now,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	return sess
}

func testUserNotFound(ctx context.Context, t *testing.T, s Storage) {
	if _, err := s.GetUser(ctx, uuid.NewString()); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	if _, err := s.GetUserBySub(ctx, "sub-"+uuid.NewString()); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	err := s.UpdateUser(ctx, &User{ID: uuid.NewString(), UpdatedAt: storedTime(time.Now())})
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error on update, got %v", err)
	}
}

func testCreateGetUser(ctx context.Context, t *testing.T, s Storage) {
	u := newUser(t, ctx, s)

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(u, got, timeEqual); diff != "" {
		t.Errorf("GetUser (-want +got):\n%s", diff)
	}

	got, err = s.GetUserBySub(ctx, u.OPSub)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(u, got, timeEqual); diff != "" {
		t.Errorf("GetUserBySub (-want +got):\n%s", diff)
	}
}

func testDuplicateSub(ctx context.Context, t *testing.T, s Storage) {
	u := newUser(t, ctx, s)

	dup := *u
	dup.ID = uuid.NewString()
	if err := s.CreateUser(ctx, &dup); !IsConflictErr(err) {
		t.Errorf("Want: conflict error, got %v", err)
	}
}

func testUpdateUser(ctx context.Context, t *testing.T, s Storage) {
	u := newUser(t, ctx, s)

	u.Email = nil
	u.Name = strp("Updated Name")
	u.UpdatedAt = storedTime(time.Now().Add(time.Minute))
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(u, got, timeEqual); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func testSessionNotFound(ctx context.Context, t *testing.T, s Storage) {
	if _, err := s.GetSession(ctx, uuid.NewString()); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	if _, _, err := s.GetSessionWithUser(ctx, uuid.NewString()); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testCreateGetSession(ctx context.Context, t *testing.T, s Storage) {
	u := newUser(t, ctx, s)
	sess := newSession(t, ctx, s, u)

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(sess, got, timeEqual); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	// nullable columns
	bare := &Session{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		AccessToken:    "aa:bb:cc",
		RefreshToken:   strp("dd:ee:ff"),
		IDToken:        "h.p.s",
		TokenExpiresAt: sess.TokenExpiresAt,
		ExpiresAt:      sess.ExpiresAt,
		CreatedAt:      sess.CreatedAt,
	}
	if err := s.CreateSession(ctx, bare); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	got, err = s.GetSession(ctx, bare.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(bare, got, timeEqual); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func testSessionWithUser(ctx context.Context, t *testing.T, s Storage) {
	u := newUser(t, ctx, s)
	sess := newSession(t, ctx, s, u)

	gotSess, gotUser, err := s.GetSessionWithUser(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(sess, gotSess, timeEqual); diff != "" {
		t.Errorf("session (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(u, gotUser, timeEqual); diff != "" {
		t.Errorf("user (-want +got):\n%s", diff)
	}
}

func testRevoke(ctx context.Context, t *testing.T, s Storage) {
	u := newUser(t, ctx, s)
	sess := newSession(t, ctx, s, u)

	first := storedTime(time.Now())
	if err := s.RevokeSession(ctx, sess.ID, first); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if err := s.RevokeSession(ctx, sess.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("Want: no error revoking twice, got %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Errorf("Want: revoked at %s, got %v", first, got.RevokedAt)
	}

	if err := s.RevokeSession(ctx, uuid.NewString(), first); err != nil {
		t.Errorf("Want: no error revoking unknown session, got %v", err)
	}
}
