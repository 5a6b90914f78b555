package server

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/pardot/rp/session"
	"github.com/pardot/rp/storage"
)

const layout = `{{ define "top" }}<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>{{ .Title }}</title>
	</head>
	<body>{{ end }}
{{ define "bottom" }}
	</body>
</html>{{ end }}`

const homePage = `{{ template "top" . }}
		<h1>OIDC Relying Party</h1>
		<p>Sign in at the provider with the authorization code flow and PKCE.</p>
		<a href="/api/auth/login">Sign in</a>
{{ template "bottom" . }}`

const errorPage = `{{ template "top" . }}
		<h1>Authentication error</h1>
		<p>Error code: <code>{{ .Code }}</code></p>
		<p>{{ .Description }}</p>
		<a href="/">Back to sign in</a>
{{ template "bottom" . }}`

const dashboardPage = `{{ template "top" . }}
		<h1>Dashboard</h1>
		<p>Signed in as {{ .DisplayName }}</p>
		<form action="/api/auth/logout" method="POST">
			<input type="submit" value="Sign out">
		</form>

		<h2>Session</h2>
		<dl>
		{{- range .Rows }}
			<dt>{{ .Label }}</dt><dd><code>{{ .Value }}</code></dd>
		{{- end }}
		</dl>

		{{ range .Tokens }}
		<h2>{{ .Title }}</h2>
		{{ if .Err }}<p>Could not decode: {{ .Err }}</p>{{ else }}
		<h3>Header</h3>
		<pre>{{ .Header }}</pre>
		<h3>Payload</h3>
		<pre>{{ .Payload }}</pre>
		{{ end }}
		{{ end }}

		<h2>UserInfo</h2>
		{{ if .UserinfoErr }}<p>Userinfo request failed: {{ .UserinfoErr }}</p>{{ else }}
		<pre>{{ .Userinfo }}</pre>
		{{ end }}
{{ template "bottom" . }}`

var (
	homeTmpl      = page("home", homePage)
	errorTmpl     = page("error", errorPage)
	dashboardTmpl = page("dashboard", dashboardPage)
)

func page(name, body string) *template.Template {
	t := template.Must(template.New(name).Parse(layout))
	return template.Must(t.Parse(body))
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.WithError(err).Errorf("failed to render template %s", tmpl.Name())
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, homeTmpl, map[string]interface{}{"Title": "Sign in"})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("error")
	if code == "" {
		code = "unknown_error"
	}
	desc := r.URL.Query().Get("error_description")
	if desc == "" {
		desc = "An unknown error occurred."
	}

	s.render(w, errorTmpl, map[string]interface{}{
		"Title":       "Authentication error",
		"Code":        code,
		"Description": desc,
	})
}

type row struct {
	Label, Value string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, user, ok := SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	data := map[string]interface{}{
		"Title":       "Dashboard",
		"DisplayName": displayName(user),
		"Rows":        sessionRows(sess, user, s.now()),
		"Tokens": []tokenView{
			decodeToken("ID token", sess.IDToken),
			decodeToken("Access token", sess.AccessToken),
		},
	}

	// fetched live so the page shows what the provider says now
	ui, err := s.flow.Client.Userinfo(r.Context(), sess.AccessToken, user.OPSub)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sess.ID).Warn("dashboard userinfo request failed")
		data["UserinfoErr"] = err.Error()
	} else {
		data["Userinfo"] = indent(ui.Claims)
	}

	s.render(w, dashboardTmpl, data)
}

func displayName(u *storage.User) string {
	switch {
	case u.Name != nil:
		return *u.Name
	case u.Email != nil:
		return *u.Email
	}
	return u.OPSub
}

func sessionRows(sess *session.Session, u *storage.User, now time.Time) []row {
	return []row{
		{"RP session ID", sess.ID},
		{"OP session ID (sid)", orDash(sess.OPSessionID)},
		{"RP user ID", u.ID},
		{"OP subject (sub)", u.OPSub},
		{"Email", orDash(u.Email)},
		{"Name", orDash(u.Name)},
		{"Token expires", formatTime(sess.TokenExpiresAt, now)},
		{"Session expires", formatTime(sess.ExpiresAt, now)},
	}
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatTime(t, now time.Time) string {
	d := t.Sub(now).Truncate(time.Second)
	if d <= 0 {
		return fmt.Sprintf("%s (expired)", t.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (in %s)", t.UTC().Format(time.RFC3339), d)
}
