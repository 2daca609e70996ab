// Package email signs users in by sending a magic link to their address.
//
// There is no password and no account: proving you can read mail sent to an
// address is the whole protocol. The link carries signed credentials, so
// the process holds no state beyond a cooldown against repeated sends.
package email

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/peterhellberg/link"
	"golang.org/x/net/html"

	"hawx.me/code/signin"
)

const (
	defaultLifetime    = 15 * time.Minute
	maxCooldownEntries = 1024
)

var defaultBody = template.Must(template.New("email").Parse(`Hello! Someone, possibly you, asked to log in using this email address. If
this was you, please visit the following link within the next {{.Minutes}}
minutes:

    {{.URL}}

If this wasn't you, you can safely disregard this message.
`))

var defaultWait = template.Must(template.New("wait").Parse(`An email has already been sent to {{.Email}}. Please be
patient; you may try again in {{.Minutes}} minutes.`))

// A Sender delivers a sign-in email. It is given the bare destination
// address and the rendered body, and owns everything else about the
// message, including its From and Subject headers.
type Sender func(to, body string) error

// An Option configures a Handler.
type Option func(*config)

type config struct {
	lifetime   time.Duration
	bodyText   string
	waitText   string
	notifyMsg  string
	notifyArgs map[string]any
}

// WithLifetime sets how long a sent link can be used for. The default is
// fifteen minutes.
func WithLifetime(d time.Duration) Option {
	return func(c *config) {
		c.lifetime = d
	}
}

// WithTemplate replaces the body of the sent email. The template is given
// .URL, the link to visit, and .Minutes, how long it remains valid.
func WithTemplate(text string) Option {
	return func(c *config) {
		c.bodyText = text
	}
}

// WithWaitMessage replaces the message shown when an address asks for
// another link too soon. The template is given .Email and .Minutes, how
// long they have left to wait.
func WithWaitMessage(text string) Option {
	return func(c *config) {
		c.waitText = text
	}
}

// WithNotify replaces the notification returned after a link is sent. Args
// is passed through for the application's notification page.
func WithNotify(message string, args map[string]any) Option {
	return func(c *config) {
		c.notifyMsg = message
		c.notifyArgs = args
	}
}

// Handler signs users in over email.
type Handler struct {
	key      []byte
	sender   Sender
	lifetime time.Duration
	body     *template.Template
	wait     *template.Template
	notify   signin.Notify

	cooldowns *signin.TimedStore[string, time.Time]

	now func() time.Time
}

// New creates a Handler signing links with key and sending them with
// sender.
func New(key []byte, sender Sender, opts ...Option) (*Handler, error) {
	if len(key) == 0 {
		return nil, errors.New("secret key must be non-empty")
	}
	if sender == nil {
		return nil, errors.New("sender must be provided")
	}

	cfg := config{
		lifetime:  defaultLifetime,
		notifyMsg: "Check your email for a login link",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	body := defaultBody
	if cfg.bodyText != "" {
		var err error
		if body, err = template.New("email").Parse(cfg.bodyText); err != nil {
			return nil, fmt.Errorf("could not parse email template: %w", err)
		}
	}

	wait := defaultWait
	if cfg.waitText != "" {
		var err error
		if wait, err = template.New("wait").Parse(cfg.waitText); err != nil {
			return nil, fmt.Errorf("could not parse wait template: %w", err)
		}
	}

	return &Handler{
		key:       key,
		sender:    sender,
		lifetime:  cfg.lifetime,
		body:      body,
		wait:      wait,
		notify:    signin.Notify{Message: cfg.notifyMsg, Args: cfg.notifyArgs},
		cooldowns: signin.NewTimedStore[string, time.Time](cfg.lifetime*4, maxCooldownEntries),
		now:       time.Now,
	}, nil
}

// ServiceName implements signin.Handler.
func (h *Handler) ServiceName() string { return "Email" }

// URLSchemes implements signin.Handler.
func (h *Handler) URLSchemes() []signin.Scheme {
	return []signin.Scheme{
		{Pattern: "mailto:%", Placeholder: "email@example.com"},
		{Pattern: "%", Placeholder: "email@example.com"},
	}
}

// HandlesURL accepts mailto URLs and bare email addresses, canonicalising
// the latter into mailto form.
func (h *Handler) HandlesURL(identity string) (string, bool) {
	if u, err := url.Parse(identity); err == nil && u.Scheme == "mailto" {
		return identity, true
	}

	if addr, err := mail.ParseAddress(identity); err == nil {
		return "mailto:" + addr.Address, true
	}

	return "", false
}

// HandlesPage implements signin.Handler. An email address has no page.
func (h *Handler) HandlesPage(url string, headers http.Header, doc *html.Node, links link.Group) bool {
	return false
}

// InitiateAuth mails the address named by identityURL a link to
// callbackURL carrying signed credentials, and tells the user to go check
// their inbox. Asking again while a link is still fresh extends the wait
// rather than sending more mail.
func (h *Handler) InitiateAuth(identityURL, callbackURL string) signin.Disposition {
	dest := destination(identityURL)
	now := h.now()

	if next, ok := h.cooldowns.Get(dest); ok && now.Before(next) {
		wait := time.Duration(float64(next.Sub(now)) * 1.2)
		h.cooldowns.Set(dest, now.Add(wait))

		msg, err := render(h.wait, waitData{Email: dest, Minutes: ceilMinutes(wait)})
		if err != nil {
			slog.Error("could not render wait message", "err", err)
			return signin.Errorf("Please try again in %d minutes", ceilMinutes(wait))
		}

		return signin.Error{Message: msg}
	}

	linkURL, err := signURL(callbackURL, h.key, dest, now.Add(h.lifetime), "")
	if err != nil {
		slog.Error("could not sign login link", "callback", callbackURL, "err", err)
		return signin.Error{Message: "Unable to send login email"}
	}

	body, err := render(h.body, bodyData{URL: linkURL, Minutes: int(h.lifetime / time.Minute)})
	if err != nil {
		slog.Error("could not render login email", "err", err)
		return signin.Error{Message: "Unable to send login email"}
	}

	if err := h.sender(dest, body); err != nil {
		slog.Error("could not send login email", "to", dest, "err", err)
		return signin.Error{Message: "Unable to send login email"}
	}

	next := now.Add(h.lifetime / 2)
	h.cooldowns.Set(dest, next)
	slog.Debug("sent login email", "to", dest, "next", next)

	return h.notify
}

// CheckCallback verifies the signed link the user followed. The identity is
// the address the link was sent to, lowercased.
func (h *Handler) CheckCallback(u *url.URL, query, form url.Values) signin.Disposition {
	user, reasons := validate(query, h.key, h.now())
	if len(reasons) > 0 {
		return signin.Error{Message: strings.Join(reasons, ",")}
	}

	return signin.Verified{Identity: strings.ToLower(user)}
}

type bodyData struct {
	URL     string
	Minutes int
}

type waitData struct {
	Email   string
	Minutes int
}

func render(t *template.Template, data any) (string, error) {
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func ceilMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}

// destination extracts the bare address from a mailto URL.
func destination(identityURL string) string {
	if u, err := url.Parse(identityURL); err == nil && u.Scheme == "mailto" {
		if u.Opaque != "" {
			return u.Opaque
		}

		return strings.TrimPrefix(u.Path, "/")
	}

	return identityURL
}
