// Package indieauth signs users in against the IndieAuth authorization
// endpoint their identity page advertises.
//
// See https://indieauth.spec.indieweb.org/
package indieauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/peterhellberg/link"
	"golang.org/x/net/html"

	"hawx.me/code/signin"
)

const (
	defaultExpiry      = 10 * time.Minute
	defaultEndpointTTL = time.Hour

	maxPendingEntries  = 1024
	maxEndpointEntries = 128

	maxBodySize = 1 << 20
)

// A ClientIDProvider names the application to authorization endpoints. Use
// Static when the client id is fixed, or ClientIDFunc when it depends on
// how the application is being served.
type ClientIDProvider interface {
	ClientID() string
}

// Static is a fixed client id.
type Static string

// ClientID returns the id itself.
func (s Static) ClientID() string { return string(s) }

// ClientIDFunc adapts a function to a ClientIDProvider.
type ClientIDFunc func() string

// ClientID returns the result of calling the function.
func (f ClientIDFunc) ClientID() string { return f() }

// An Option configures a Handler.
type Option func(*config)

type config struct {
	client      *http.Client
	expiry      time.Duration
	endpointTTL time.Duration
}

// WithClient sets the http client used to fetch identity pages and to
// exchange authorization codes.
func WithClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithExpiry sets how long the user has to complete a sign-in after being
// redirected to their authorization endpoint. The default is ten minutes.
func WithExpiry(d time.Duration) Option {
	return func(c *config) {
		c.expiry = d
	}
}

// WithEndpointTTL sets how long a discovered authorization endpoint is
// remembered without rereading the identity page. The default is an hour.
func WithEndpointTTL(d time.Duration) Option {
	return func(c *config) {
		c.endpointTTL = d
	}
}

type transaction struct {
	me          string
	endpoint    string
	callbackURI string
}

// Handler signs users in with IndieAuth.
type Handler struct {
	clientID  ClientIDProvider
	client    *http.Client
	pending   *signin.TimedStore[string, transaction]
	endpoints *signin.TimedStore[string, string]
}

// New creates a Handler identifying itself with the given client id, which
// must name a URL the authorization endpoint could fetch to learn about the
// application.
func New(clientID ClientIDProvider, opts ...Option) (*Handler, error) {
	if clientID == nil {
		return nil, errors.New("client id must be provided")
	}

	cfg := config{
		expiry:      defaultExpiry,
		endpointTTL: defaultEndpointTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = signin.DefaultClient()
	}

	return &Handler{
		clientID:  clientID,
		client:    cfg.client,
		pending:   signin.NewTimedStore[string, transaction](cfg.expiry, maxPendingEntries),
		endpoints: signin.NewTimedStore[string, string](cfg.endpointTTL, maxEndpointEntries),
	}, nil
}

// ServiceName implements signin.Handler.
func (h *Handler) ServiceName() string { return "IndieAuth" }

// URLSchemes implements signin.Handler.
func (h *Handler) URLSchemes() []signin.Scheme {
	return []signin.Scheme{
		{Pattern: "%", Placeholder: "https://domain.example.com"},
	}
}

// HandlesURL claims an identity only when its authorization endpoint is
// already known; anything else waits for HandlesPage to see the page.
func (h *Handler) HandlesURL(identity string) (string, bool) {
	if _, ok := h.endpoints.Get(identity); ok {
		return identity, true
	}

	return "", false
}

// HandlesPage claims any page advertising an authorization endpoint, and
// remembers the endpoint for the sign-in that is about to start.
func (h *Handler) HandlesPage(url string, headers http.Header, doc *html.Node, links link.Group) bool {
	return h.findEndpoint(url, links, doc) != ""
}

// InitiateAuth redirects the user to the authorization endpoint discovered
// for identityURL, holding the transaction under a random state token until
// they land back on callbackURL.
func (h *Handler) InitiateAuth(identityURL, callbackURL string) signin.Disposition {
	endpoint := h.findEndpoint(identityURL, nil, nil)
	if endpoint == "" {
		return signin.Error{Message: "Failed to get IndieAuth endpoint"}
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		slog.Error("discovered endpoint is unusable", "me", identityURL, "endpoint", endpoint, "err", err)
		return signin.Error{Message: "Failed to get IndieAuth endpoint"}
	}

	state, err := randomString()
	if err != nil {
		slog.Error("could not generate state token", "err", err)
		return signin.Error{Message: "Unable to start sign-in"}
	}

	h.pending.Set(state, transaction{
		me:          identityURL,
		endpoint:    endpoint,
		callbackURI: callbackURL,
	})

	query := endpointURL.Query()
	query.Set("redirect_uri", callbackURL)
	query.Set("client_id", h.clientID.ClientID())
	query.Set("state", state)
	query.Set("response_type", "id")
	query.Set("me", identityURL)
	endpointURL.RawQuery = query.Encode()

	return signin.Redirect{URL: endpointURL.String()}
}

// CheckCallback exchanges the authorization code carried by the callback
// request for the identity it belongs to, and verifies that identity is one
// the sign-in actually asked about. The pending transaction is discarded as
// soon as it is presented, so a callback URL cannot be replayed.
func (h *Handler) CheckCallback(u *url.URL, query, form url.Values) signin.Disposition {
	state := query.Get("state")
	if state == "" {
		return signin.Error{Message: "No transaction provided"}
	}

	tx, ok := h.pending.Take(state)
	if !ok {
		return signin.Error{Message: "Invalid transaction"}
	}

	code := query.Get("code")
	if code == "" {
		return signin.Error{Message: "Missing authorization code"}
	}

	req, err := http.NewRequest("POST", tx.endpoint, strings.NewReader(url.Values{
		"code":         {code},
		"client_id":    {h.clientID.ClientID()},
		"redirect_uri": {tx.callbackURI},
	}.Encode()))
	if err != nil {
		slog.Error("could not build exchange request", "endpoint", tx.endpoint, "err", err)
		return signin.Error{Message: "Unable to verify identity"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		slog.Error("code exchange failed", "endpoint", tx.endpoint, "err", err)
		return signin.Error{Message: "Unable to verify identity"}
	}
	defer resp.Body.Close()

	mediatype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK || mediatype != "application/json" {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		slog.Error("code exchange refused", "endpoint", tx.endpoint,
			"status", resp.StatusCode, "mediatype", mediatype, "body", string(body))
		return signin.Error{Message: "Unable to verify identity"}
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		slog.Error("could not decode exchange response", "endpoint", tx.endpoint, "err", err)
		return signin.Error{Message: "Got invalid response JSON"}
	}

	me, _ := profile["me"].(string)
	if me == "" {
		return signin.Error{Message: "No identity provided"}
	}

	responseID, ok := VerifyID(tx.me, me)
	if !ok {
		return signin.Error{Message: "Identity URL does not match"}
	}

	return signin.Verified{Identity: responseID, Profile: profile}
}

func randomString() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
