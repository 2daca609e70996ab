// Package sessions wires signin into cookie-based http glue.
//
// It keeps the verified identity in a gorilla/sessions cookie and provides
// handlers for the login form, the callback landing, and signing out, along
// with Shield and Choose for guarding routes. Applications that need
// different glue can use the signin package directly; this one exists so
// they do not have to.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/sessions"

	"hawx.me/code/signin"
)

// LoginData is given to Renderer.Login.
type LoginData struct {
	// Flashes holds messages from a failed attempt, oldest first.
	Flashes []string

	// Redir is where the user lands after signing in. Pass it back in the
	// login form.
	Redir string

	// Handlers describes the registered handlers, for input hints.
	Handlers []HandlerInfo
}

// HandlerInfo describes one way of signing in.
type HandlerInfo struct {
	Name    string
	Schemes []signin.Scheme
}

// NotifyData is given to Renderer.Notify.
type NotifyData struct {
	Message string
	Args    map[string]any
}

// A Renderer draws the two pages the sign-in flow needs.
type Renderer interface {
	Login(w http.ResponseWriter, data LoginData) error
	Notify(w http.ResponseWriter, data NotifyData) error
}

// Sessions provides http handlers for signing users in and out.
type Sessions struct {
	// Root is where users land after signing in or out when nothing better
	// is known.
	Root string

	// CallbackPath is the route Callback is served on, used when building
	// the callback URL handed to handlers.
	CallbackPath string

	// DefaultSignedOut is shown by Shield when nobody is signed in.
	DefaultSignedOut http.Handler

	store    sessions.Store
	auth     *signin.Auth
	renderer Renderer
	limiter  *loginLimiters
	baseURL  *url.URL
}

// New creates Sessions around auth. The secret signs the session cookie,
// baseURL is the absolute URL the application is served from, and renderer
// draws the login and notify pages.
func New(secret []byte, baseURL string, auth *signin.Auth, renderer Renderer) (*Sessions, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret must be non-empty")
	}
	if renderer == nil {
		return nil, errors.New("renderer must be provided")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("base url must be absolute")
	}

	return &Sessions{
		Root:             "/",
		CallbackPath:     "/callback",
		DefaultSignedOut: http.NotFoundHandler(),
		store:            sessions.NewCookieStore(secret),
		auth:             auth,
		renderer:         renderer,
		limiter:          newLoginLimiters(),
		baseURL:          base,
	}, nil
}

// SignedIn returns the verified identity held by the request's session.
func (s *Sessions) SignedIn(r *http.Request) (string, bool) {
	me := s.get(r)
	return me, me != ""
}

// Choose switches between two handlers depending on whether a user is
// signed in.
func (s *Sessions) Choose(signedIn, signedOut http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.SignedIn(r); ok {
			signedIn.ServeHTTP(w, r)
		} else {
			signedOut.ServeHTTP(w, r)
		}
	}
}

// Shield lets the request continue only for signed-in users, otherwise
// showing DefaultSignedOut.
func (s *Sessions) Shield(signedIn http.Handler) http.HandlerFunc {
	return s.Choose(signedIn, s.DefaultSignedOut)
}

// SignIn returns the handler for the login route. Without an identity in
// the "me" form value it renders the login page; with one it starts a
// sign-in using whichever protocol handler claims the identity, trying
// webfinger resolution when none does directly.
func (s *Sessions) SignIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		redir := sanitizeRedir(r.Form.Get("redir"))

		me := strings.TrimSpace(r.Form.Get("me"))
		if me == "" {
			s.renderLogin(w, r, redir)
			return
		}

		if !s.limiter.allow(clientIP(r)) {
			slog.Warn("login rate limit exceeded", "addr", r.RemoteAddr)
			tooManyRequests(w)
			return
		}

		handler, hid, idURL := s.auth.Match(me)
		for _, profile := range s.profiles(handler, me) {
			if handler, hid, idURL = s.auth.Match(profile); handler != nil {
				break
			}
		}

		if handler == nil {
			unmatchedLogins.Inc()
			s.flash(r, "Unknown authorization method")
			s.renderLogin(w, r, redir)
			return
		}

		loginAttempts.WithLabelValues(handler.ServiceName()).Inc()

		disposition := handler.InitiateAuth(idURL, s.callbackURL(hid, redir))
		s.handleDisposition(w, r, handler.ServiceName(), disposition, redir)
	}
}

// profiles expands a fediverse name into profile URLs worth retrying, when
// no handler claimed the name itself.
func (s *Sessions) profiles(handler signin.Handler, me string) []string {
	if handler != nil {
		return nil
	}

	return signin.Profiles(me, s.auth.Client)
}

// Callback returns the handler for the route providers and signed links
// land on. It routes the request back to the handler that began the
// sign-in, named by the "hid" query parameter.
func (s *Sessions) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		redir := sanitizeRedir(r.Form.Get("redir"))

		hid, err := strconv.Atoi(r.Form.Get("hid"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		handler := s.auth.Handler(hid)
		if handler == nil {
			http.NotFound(w, r)
			return
		}

		disposition := handler.CheckCallback(r.URL, r.URL.Query(), r.PostForm)
		s.handleDisposition(w, r, handler.ServiceName(), disposition, redir)
	}
}

// SignOut returns the handler that removes the session.
func (s *Sessions) SignOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.set(w, r, "")
		http.Redirect(w, r, s.Root, http.StatusFound)
	}
}

func (s *Sessions) handleDisposition(w http.ResponseWriter, r *http.Request, handlerName string, d signin.Disposition, redir string) {
	dispositions.WithLabelValues(handlerName, dispositionKind(d)).Inc()

	switch d := d.(type) {
	case signin.Redirect:
		http.Redirect(w, r, d.URL, http.StatusFound)

	case signin.Verified:
		s.set(w, r, d.Identity)
		slog.Info("signed in", "me", d.Identity, "handler", handlerName)
		if redir == "" {
			redir = s.Root
		}
		http.Redirect(w, r, redir, http.StatusFound)

	case signin.Notify:
		if err := s.renderer.Notify(w, NotifyData{Message: d.Message, Args: d.Args}); err != nil {
			slog.Error("could not render notify page", "err", err)
			http.Error(w, "could not render page", http.StatusInternalServerError)
		}

	case signin.Error:
		slog.Info("sign-in failed", "handler", handlerName, "message", d.Message)
		s.flash(r, d.Message)
		s.renderLogin(w, r, redir)

	default:
		http.Error(w, "unknown disposition", http.StatusInternalServerError)
	}
}

func (s *Sessions) renderLogin(w http.ResponseWriter, r *http.Request, redir string) {
	session, _ := s.store.Get(r, "session")

	var flashes []string
	for _, f := range session.Flashes() {
		if msg, ok := f.(string); ok {
			flashes = append(flashes, msg)
		}
	}
	session.Save(r, w)

	var infos []HandlerInfo
	for _, h := range s.auth.Handlers() {
		infos = append(infos, HandlerInfo{Name: h.ServiceName(), Schemes: h.URLSchemes()})
	}

	err := s.renderer.Login(w, LoginData{Flashes: flashes, Redir: redir, Handlers: infos})
	if err != nil {
		slog.Error("could not render login page", "err", err)
		http.Error(w, "could not render page", http.StatusInternalServerError)
	}
}

func (s *Sessions) callbackURL(hid int, redir string) string {
	query := url.Values{"hid": {strconv.Itoa(hid)}}
	if redir != "" {
		query.Set("redir", redir)
	}

	cb := *s.baseURL
	cb.Path = path.Join(cb.Path, s.CallbackPath)
	cb.RawQuery = query.Encode()

	return cb.String()
}

func (s *Sessions) get(r *http.Request) string {
	session, _ := s.store.Get(r, "session")

	if v, ok := session.Values["me"].(string); ok {
		return v
	}

	return ""
}

func (s *Sessions) set(w http.ResponseWriter, r *http.Request, me string) {
	session, _ := s.store.Get(r, "session")
	session.Values["me"] = me
	session.Save(r, w)
}

func (s *Sessions) flash(r *http.Request, message string) {
	session, _ := s.store.Get(r, "session")
	session.AddFlash(message)
}

// sanitizeRedir keeps post-login redirects inside the application: a path
// on this site, never a URL somewhere else.
func sanitizeRedir(redir string) string {
	if redir == "" || redir[0] != '/' || strings.HasPrefix(redir, "//") {
		return ""
	}

	return redir
}
