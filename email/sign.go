package email

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Query parameters carrying the signed portion of a magic link.
const (
	paramUser       = "u"
	paramValidUntil = "v"
	paramSignature  = "s"
	paramExtra      = "e"
)

// signURL appends signed credentials for user to callbackURL's query: the
// user, when the link stops being valid, and a signature over both.
func signURL(callbackURL string, key []byte, user string, validUntil time.Time, extra string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", err
	}

	stamp := strconv.FormatInt(validUntil.Unix(), 10)

	query := u.Query()
	query.Set(paramUser, user)
	query.Set(paramValidUntil, stamp)
	if extra != "" {
		query.Set(paramExtra, extra)
	}
	query.Set(paramSignature, signature(key, user, stamp, extra))
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// validate checks the signed credentials in query against key, returning
// the user they name. The link is only good when there are no reasons; the
// reasons are safe to show to the user.
func validate(query url.Values, key []byte, now time.Time) (user string, reasons []string) {
	user = query.Get(paramUser)
	if user == "" {
		reasons = append(reasons, "missing address")
	}

	stamp := query.Get(paramValidUntil)
	if expires, err := strconv.ParseInt(stamp, 10, 64); err != nil {
		reasons = append(reasons, "invalid timestamp")
	} else if now.After(time.Unix(expires, 0)) {
		reasons = append(reasons, "link expired")
	}

	sig := query.Get(paramSignature)
	if sig == "" {
		reasons = append(reasons, "missing signature")
	} else {
		expected := signature(key, user, stamp, query.Get(paramExtra))
		if !hmac.Equal([]byte(sig), []byte(expected)) {
			reasons = append(reasons, "invalid signature")
		}
	}

	return user, reasons
}

func signature(key []byte, user, validUntil, extra string) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s\x1f%s\x1f%s", user, validUntil, extra)

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
