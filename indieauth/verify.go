package indieauth

import (
	"net/url"
	"strings"
)

// VerifyID checks that the identity an authorization endpoint says it
// verified is one the requested identity could legitimately claim: it must
// live on the same scheme and host, and its path must sit at or below the
// requested identity's path. It returns the response identity with its path
// normalized, or false if the claim does not hold.
func VerifyID(requestID, responseID string) (string, bool) {
	orig, err := url.Parse(requestID)
	if err != nil {
		return "", false
	}
	resp, err := url.Parse(responseID)
	if err != nil {
		return "", false
	}

	if orig.Scheme != resp.Scheme || orig.Host != resp.Host {
		return "", false
	}

	origPath := strings.Split(orig.Path, "/")
	respPath := strings.Split(resp.Path, "/")

	// a trailing slash on the request does not make it more specific
	if origPath[len(origPath)-1] == "" {
		origPath = origPath[:len(origPath)-1]
	}

	normPath := []string{""}
	for _, part := range respPath {
		switch part {
		case "..":
			normPath = normPath[:len(normPath)-1]
			if len(normPath) == 0 {
				return "", false
			}
		case "", ".":
		default:
			normPath = append(normPath, part)
		}
	}
	if strings.HasSuffix(resp.Path, "/") {
		normPath = append(normPath, "")
	}

	if len(normPath) < len(origPath) {
		return "", false
	}
	for i, part := range origPath {
		if normPath[i] != part {
			return "", false
		}
	}

	normalized := *resp
	normalized.Path = strings.Join(normPath, "/")
	normalized.RawPath = ""

	return normalized.String(), true
}
