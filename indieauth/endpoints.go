package indieauth

import (
	"io"
	"log/slog"
	"net/url"

	"github.com/peterhellberg/link"
	"golang.org/x/net/html"

	"hawx.me/code/signin"
)

const authorizationRel = "authorization_endpoint"

// findEndpoint discovers the authorization endpoint for idURL. Anything
// advertised by the links and doc already in hand wins; otherwise an
// earlier discovery may be cached; otherwise the page is fetched once and
// inspected. A fresh discovery overwrites the cached value, so a site that
// moves endpoints is picked up as soon as its page is seen again.
func (h *Handler) findEndpoint(idURL string, links link.Group, doc *html.Node) string {
	cached, haveCached := h.endpoints.Get(idURL)

	found := deriveEndpoint(idURL, links, doc)
	if found == "" && !haveCached {
		found = h.fetchEndpoint(idURL)
	}

	if found != "" {
		h.endpoints.Set(idURL, found)
		return found
	}

	return cached
}

func (h *Handler) fetchEndpoint(idURL string) string {
	resp, err := h.client.Get(idURL)
	if err != nil {
		slog.Debug("could not fetch identity page", "url", idURL, "err", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("identity page unavailable", "url", idURL, "status", resp.StatusCode)
		return ""
	}

	var doc *html.Node
	if parsed, err := html.Parse(io.LimitReader(resp.Body, maxBodySize)); err == nil {
		doc = parsed
	}

	return deriveEndpoint(resp.Request.URL.String(), link.ParseResponse(resp), doc)
}

// deriveEndpoint finds the authorization endpoint advertised by a Link
// header or a <link> element, resolved against the page's URL.
func deriveEndpoint(pageURL string, links link.Group, doc *html.Node) string {
	if l, ok := links[authorizationRel]; ok {
		return resolve(pageURL, l.URI)
	}

	if href, ok := signin.LinkRel(doc, authorizationRel); ok {
		return resolve(pageURL, href)
	}

	return ""
}

func resolve(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}

	refURL, err := baseURL.Parse(ref)
	if err != nil {
		return ""
	}

	return refURL.String()
}
