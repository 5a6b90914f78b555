package server

import (
	"context"

	"github.com/pardot/rp/session"
	"github.com/pardot/rp/storage"
)

type contextKey string

func (c contextKey) String() string {
	return "server context key " + string(c)
}

var (
	contextKeySession = contextKey("session")
	contextKeyUser    = contextKey("user")
)

func withSession(ctx context.Context, sess *session.Session, user *storage.User) context.Context {
	ctx = context.WithValue(ctx, contextKeySession, sess)
	return context.WithValue(ctx, contextKeyUser, user)
}

// SessionFromContext returns the live session and its user, as loaded for an
// authenticated request.
func SessionFromContext(ctx context.Context) (*session.Session, *storage.User, bool) {
	sess, ok := ctx.Value(contextKeySession).(*session.Session)
	if !ok {
		return nil, nil, false
	}
	user, ok := ctx.Value(contextKeyUser).(*storage.User)
	return sess, user, ok
}
