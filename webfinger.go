package signin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
)

var webfingerName = regexp.MustCompile(`^@([^@]+)@(.*)$`)

// Profiles resolves a fediverse style @user@domain name into the profile
// URLs its home server advertises over webfinger. Names in any other shape
// resolve to nothing. A server that does not answer webfinger resolves to
// the conventional https://domain/@user page; a query that fails outright
// resolves to nothing.
func Profiles(name string, client *http.Client) []string {
	match := webfingerName.FindStringSubmatch(name)
	if match == nil {
		return nil
	}
	user, domain := match[1], match[2]

	if client == nil {
		client = defaultClient
	}

	resource := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domain, url.QueryEscape("acct:"+user+"@"+domain))

	resp, err := client.Get(resource)
	if err != nil {
		slog.Debug("webfinger query failed", "resource", resource, "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("webfinger not supported", "resource", resource, "status", resp.StatusCode)
		return []string{fmt.Sprintf("https://%s/@%s", domain, user)}
	}

	var profile struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		slog.Debug("webfinger response undecodable", "resource", resource, "err", err)
		return nil
	}

	var (
		urls []string
		seen = map[string]bool{}
	)
	for _, l := range profile.Links {
		switch l.Rel {
		case "http://webfinger.net/rel/profile-page", "profile", "self":
			if l.Href != "" && !seen[l.Href] {
				urls = append(urls, l.Href)
				seen[l.Href] = true
			}
		}
	}

	return urls
}
