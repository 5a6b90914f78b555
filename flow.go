package rp

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/pardot/rp/cookiesign"
	"github.com/pardot/rp/pkce"
	"github.com/pardot/rp/session"
	"github.com/pardot/rp/storage"
	"github.com/sirupsen/logrus"
)

// SessionCookie carries the signed session identifier.
const SessionCookie = "rp_session"

// Error codes sent to the error view.
const (
	ErrorCodeSessionExpired = "session_expired"
	ErrorCodeCallbackFailed = "callback_failed"
	ErrorCodeServerError    = "server_error"
)

const (
	defaultErrorPath   = "/error"
	defaultSuccessPath = "/dashboard"
)

// CallbackState is the terminal state a callback reached.
type CallbackState int

const (
	AwaitingCallback CallbackState = iota
	// ProviderError: the provider returned an error parameter.
	ProviderErrorState
	// MissingPendingState: one or more pending login cookies were absent.
	MissingPendingState
	// ExchangeFailed: state, code exchange or ID token validation failed.
	ExchangeFailed
	// SessionCreated: the user is logged in.
	SessionCreated
	// SessionFailed: the exchange succeeded but the session could not be
	// stored.
	SessionFailed
)

func (s CallbackState) String() string {
	switch s {
	case AwaitingCallback:
		return "awaiting_callback"
	case ProviderErrorState:
		return "provider_error"
	case MissingPendingState:
		return "missing_pending_state"
	case ExchangeFailed:
		return "exchange_failed"
	case SessionCreated:
		return "session_created"
	case SessionFailed:
		return "session_failed"
	}
	return "unknown"
}

// CallbackResult describes how a callback was handled.
type CallbackResult struct {
	State CallbackState
	// Location is where the browser is redirected.
	Location string
	// Err is the failure, for every state but SessionCreated.
	Err error
	// Session is set when State is SessionCreated.
	Session *session.Session
}

// Flow serves login, callback and logout.
type Flow struct {
	Client   *Client
	Sessions *session.Store
	// SessionSecret signs the session cookie.
	SessionSecret []byte
	// SecureCookies sets the Secure attribute on cookies.
	SecureCookies bool
	// PostLogoutRedirect is where logout sends the browser. Defaults to /.
	PostLogoutRedirect string

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// HandleLogin starts a login: it stages fresh pending state in cookies and
// redirects to the provider. Nothing is stored server side.
func (f *Flow) HandleLogin(w http.ResponseWriter, r *http.Request) {
	pending, err := pkce.New()
	if err != nil {
		f.Logger.WithError(err).Error("generating pending login state")
		f.Metrics.loginStarted(false)
		http.Redirect(w, r, errorLocation(ErrorCodeServerError, ""), http.StatusFound)
		return
	}

	u, err := f.Client.AuthCodeURL(r.Context(), pending)
	if err != nil {
		f.Logger.WithError(err).Error("building authorization url")
		f.Metrics.loginStarted(false)
		http.Redirect(w, r, errorLocation(ErrorCodeServerError, ""), http.StatusFound)
		return
	}

	pending.Set(w, f.SecureCookies)
	f.Metrics.loginStarted(true)
	http.Redirect(w, r, u, http.StatusFound)
}

// HandleCallback completes a login and redirects to the authenticated area,
// or to the error view.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	res := f.Callback(w, r)

	l := f.Logger.WithField("state", res.State.String())
	var kind ExchangeErrorKind
	var xerr *ExchangeError
	if errors.As(res.Err, &xerr) {
		kind = xerr.Kind
		l = l.WithField("error_kind", string(kind))
	}

	switch res.State {
	case SessionCreated:
		l.WithField("session_id", res.Session.ID).Info("login completed")
	case ProviderErrorState, MissingPendingState:
		l.WithError(res.Err).Warn("login not completed")
	default:
		l.WithError(res.Err).Error("login failed")
	}
	f.Metrics.callbackFinished(res.State, kind)

	http.Redirect(w, r, res.Location, http.StatusFound)
}

// Callback runs the callback state machine. Cookies are written to w; the
// redirect is left to the caller.
func (f *Flow) Callback(w http.ResponseWriter, r *http.Request) *CallbackResult {
	ctx := r.Context()
	q := r.URL.Query()

	// the pending cookies are left alone, the flow never reached them
	if code := q.Get("error"); code != "" {
		desc := q.Get("error_description")
		return &CallbackResult{
			State:    ProviderErrorState,
			Location: errorLocation(code, desc),
			Err:      &ProviderError{Code: code, Description: desc},
		}
	}

	pending, ok := pkce.Read(r)
	if !ok {
		return &CallbackResult{
			State:    MissingPendingState,
			Location: errorLocation(ErrorCodeSessionExpired, "Your login session has expired. Please sign in again."),
			Err:      ErrSessionExpired,
		}
	}
	// single use, whatever happens next
	pkce.Clear(w, f.SecureCookies)

	toks, err := f.Client.Exchange(ctx, q, pending)
	if err != nil {
		return &CallbackResult{
			State:    ExchangeFailed,
			Location: errorLocation(ErrorCodeCallbackFailed, "Authentication failed. Please try again."),
			Err:      err,
		}
	}

	sess, err := f.establish(ctx, toks)
	if err != nil {
		return &CallbackResult{
			State:    SessionFailed,
			Location: errorLocation(ErrorCodeServerError, ""),
			Err:      err,
		}
	}

	f.setSessionCookie(w, sess)
	return &CallbackResult{
		State:    SessionCreated,
		Location: defaultSuccessPath,
		Session:  sess,
	}
}

func (f *Flow) establish(ctx context.Context, toks *Tokens) (*session.Session, error) {
	info := session.UserInfo{Sub: toks.Subject}

	ui, err := f.Client.Userinfo(ctx, toks.AccessToken, toks.Subject)
	if err != nil {
		// attributes stay nil, the dashboard shows the failure when it
		// fetches userinfo itself
		f.Logger.WithError(err).WithField("sub", toks.Subject).Warn("userinfo unavailable during login")
	} else {
		info.Email = ui.Email
		info.Name = ui.Name
	}

	u, err := f.Sessions.UpsertUser(ctx, info)
	if err != nil {
		return nil, err
	}

	return f.Sessions.Create(ctx, session.CreateParams{
		UserID:         u.ID,
		OPSessionID:    toks.SessionID,
		AccessToken:    toks.AccessToken,
		RefreshToken:   toks.RefreshToken,
		IDToken:        toks.IDToken,
		TokenExpiresAt: toks.Expiry,
	})
}

func (f *Flow) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    cookiesign.Sign(sess.ID, f.SessionSecret),
		Path:     "/",
		MaxAge:   int(session.DefaultLifetime.Seconds()),
		HttpOnly: true,
		Secure:   f.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// HandleLogout revokes the current session, clears the session cookie and
// redirects to the post logout location. The provider session is left alone.
func (f *Flow) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := f.SessionID(r); ok {
		if err := f.Sessions.Revoke(r.Context(), id); err != nil {
			f.Logger.WithError(err).WithField("session_id", id).Error("revoking session")
		} else {
			f.Logger.WithField("session_id", id).Info("logged out")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   f.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	to := f.PostLogoutRedirect
	if to == "" {
		to = "/"
	}
	http.Redirect(w, r, to, http.StatusFound)
}

// SessionID returns the verified session identifier from the request's
// session cookie.
func (f *Flow) SessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return cookiesign.Verify(c.Value, f.SessionSecret)
}

// CurrentSession performs the authoritative session check for a request: the
// cookie must verify and the session must be live.
func (f *Flow) CurrentSession(r *http.Request) (*session.Session, *storage.User, error) {
	id, ok := f.SessionID(r)
	if !ok {
		return nil, nil, session.ErrNotFound
	}
	return f.Sessions.GetWithUser(r.Context(), id)
}

func errorLocation(code, desc string) string {
	v := url.Values{}
	v.Set("error", code)
	if desc != "" {
		v.Set("error_description", desc)
	}
	return defaultErrorPath + "?" + v.Encode()
}
