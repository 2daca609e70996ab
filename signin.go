package signin

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/peterhellberg/link"
	"golang.org/x/net/html"
)

// Auth dispatches identities to the handler that can authenticate them.
type Auth struct {
	// Client fetches identity pages when no handler recognises an identity
	// from its text alone. It should have a timeout set.
	Client *http.Client

	// MaxBodySize caps how much of a fetched page is parsed.
	MaxBodySize int64

	handlers []Handler
}

// New creates an Auth that tries each handler in the order given.
func New(handlers ...Handler) *Auth {
	return &Auth{
		Client:      defaultClient,
		MaxBodySize: 1 << 20,
		handlers:    handlers,
	}
}

// Add registers another handler, at lower priority than those already
// registered.
func (a *Auth) Add(handler Handler) {
	a.handlers = append(a.handlers, handler)
}

// Handlers returns the registered handlers in priority order, for building
// login pages.
func (a *Auth) Handlers() []Handler {
	return append([]Handler(nil), a.handlers...)
}

// Handler returns the handler registered with the given id, or nil if there
// is none. Use it to route a callback back to the handler that began the
// sign-in.
func (a *Auth) Handler(id int) Handler {
	if id < 0 || id >= len(a.handlers) {
		return nil
	}

	return a.handlers[id]
}

// Match finds the handler responsible for identity. Each handler is first
// asked whether it recognises the identity's text; if none do, the identity
// is fetched as a URL, once, and each handler is asked about the page. It
// returns the handler, its id for routing the eventual callback, and the
// identity URL to pass to InitiateAuth. When no handler matches, or the
// fetch fails, the handler is nil and the id -1.
func (a *Auth) Match(identity string) (Handler, int, string) {
	identity = strings.TrimSpace(identity)

	for pos, handler := range a.handlers {
		if canonical, ok := handler.HandlesURL(identity); ok {
			return handler, pos, canonical
		}
	}

	page, err := a.fetch(identity)
	if err != nil {
		slog.Debug("could not fetch identity page", "identity", identity, "err", err)
		return nil, -1, ""
	}

	for pos, handler := range a.handlers {
		if handler.HandlesPage(page.url, page.headers, page.doc, page.links) {
			return handler, pos, page.url
		}
	}

	return nil, -1, ""
}

type fetchedPage struct {
	url     string
	headers http.Header
	doc     *html.Node
	links   link.Group
}

func (a *Auth) fetch(identity string) (*fetchedPage, error) {
	u, err := url.Parse(identity)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		if u, err = url.Parse("https://" + identity); err != nil {
			return nil, err
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cannot fetch %s urls", u.Scheme)
	}

	client := a.Client
	if client == nil {
		client = defaultClient
	}

	resp, err := client.Get(u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &fetchedPage{
		url:     resp.Request.URL.String(),
		headers: resp.Header,
		links:   link.ParseResponse(resp),
	}

	maxBody := a.MaxBodySize
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	if doc, err := html.Parse(io.LimitReader(resp.Body, maxBody)); err == nil {
		page.doc = doc
	}

	return page, nil
}
