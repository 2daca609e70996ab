package signin

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

var defaultClient = DefaultClient()

// DefaultClient returns an http client suitable for fetching pages named by
// people you do not trust. Requests are limited to http and https on their
// usual ports, and connections to private, loopback, link-local and cloud
// metadata addresses are refused, even when reached through a redirect or a
// rebound DNS record.
func DefaultClient() *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(10 * time.Second).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}
