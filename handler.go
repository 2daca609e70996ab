package signin

import (
	"net/http"
	"net/url"

	"github.com/peterhellberg/link"
	"golang.org/x/net/html"
)

// A Scheme describes one shape of identity a handler accepts, for building
// login forms.
type Scheme struct {
	// Pattern is the recognisable prefix or shape, like "https://" or
	// "@user@domain".
	Pattern string

	// Placeholder is example text for the login input.
	Placeholder string
}

// A Handler implements a single sign-in protocol. Handlers are tried in the
// order they were registered, so put more specific ones first.
type Handler interface {
	// ServiceName identifies the handler in login forms and logs.
	ServiceName() string

	// URLSchemes lists the identity shapes the handler accepts.
	URLSchemes() []Scheme

	// HandlesURL reports whether the handler recognises the identity from
	// its text alone, returning it in canonical form. When false the
	// identity may still be claimed later by HandlesPage.
	HandlesURL(identity string) (canonical string, ok bool)

	// HandlesPage reports whether the handler recognises the identity from
	// its fetched profile page. url is the final URL after any redirects,
	// headers and links come from the response, and doc is the parsed body,
	// which may be nil if it was not html.
	HandlesPage(url string, headers http.Header, doc *html.Node, links link.Group) bool

	// InitiateAuth begins a sign-in attempt for identityURL. callbackURL is
	// where the user should land to complete it, and must be preserved
	// exactly in whatever the handler builds. Failures are reported in the
	// returned disposition, typically Error.
	InitiateAuth(identityURL, callbackURL string) Disposition

	// CheckCallback completes a sign-in attempt for a request landing on the
	// callback URL. u is the request URL, query its parsed query string, and
	// form any values sent in a POST body.
	CheckCallback(u *url.URL, query, form url.Values) Disposition
}
