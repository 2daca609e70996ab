package indieauth

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
	"hawx.me/code/assert"

	"hawx.me/code/signin"
)

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("no network in tests")
}

func urlParse(s string) *url.URL {
	u, _ := url.Parse(s)
	return u
}

func docWithEndpoint(href string) *html.Node {
	doc, _ := html.Parse(strings.NewReader(
		fmt.Sprintf(`<html><head><link rel="authorization_endpoint" href=%q/></head></html>`, href)))
	return doc
}

// initiated starts a sign-in for https://me.example.com/ against the given
// authorization endpoint, returning the handler and the query a callback
// carrying the transaction's state would have.
func initiated(t *testing.T, client *http.Client, endpoint string) (*Handler, url.Values) {
	t.Helper()

	handler, err := New(Static("http://localhost"), WithClient(client))
	assert.Nil(t, err)

	if !handler.HandlesPage("https://me.example.com/", nil, docWithEndpoint(endpoint), nil) {
		t.Fatal("page with an endpoint was not claimed")
	}

	redirect, ok := handler.InitiateAuth("https://me.example.com/", "http://localhost/callback").(signin.Redirect)
	if !ok {
		t.Fatal("expected a redirect disposition")
	}

	return handler, url.Values{
		"state": {urlParse(redirect.URL).Query().Get("state")},
		"code":  {"abcde"},
	}
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	_, err := New(nil)
	assert.Equal("client id must be provided", err.Error())

	handler, err := New(Static("https://client.example.com/"))
	assert.Nil(err)
	assert.Equal("IndieAuth", handler.ServiceName())
}

func TestClientIDProvider(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("https://client.example.com/", Static("https://client.example.com/").ClientID())

	id := "a"
	f := ClientIDFunc(func() string { return id })
	assert.Equal("a", f.ClientID())
	id = "b"
	assert.Equal("b", f.ClientID())
}

func TestHandlesURL(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("http://localhost"), WithClient(&http.Client{Transport: failingTransport{}}))
	assert.Nil(err)

	// nothing discovered yet, so let the page be fetched first
	_, ok := handler.HandlesURL("https://me.example.com/")
	assert.Equal(false, ok)
}

func TestHandlesPage(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("http://localhost"), WithClient(&http.Client{Transport: failingTransport{}}))
	assert.Nil(err)

	ok := handler.HandlesPage("https://me.example.com/", nil, docWithEndpoint("https://auth.example.com/auth"), nil)
	assert.True(ok)

	// the discovery is remembered for the sign-in that follows
	canonical, ok := handler.HandlesURL("https://me.example.com/")
	assert.True(ok)
	assert.Equal("https://me.example.com/", canonical)
}

func TestHandlesPageWithoutEndpoint(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("http://localhost"), WithClient(&http.Client{Transport: failingTransport{}}))
	assert.Nil(err)

	doc, _ := html.Parse(strings.NewReader(`<html><head></head></html>`))
	assert.Equal(false, handler.HandlesPage("https://me.example.com/", nil, doc, nil))
}

func TestInitiateAuth(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("https://client.example.com/"), WithClient(&http.Client{Transport: failingTransport{}}))
	assert.Nil(err)

	handler.HandlesPage("https://me.example.com/", nil, docWithEndpoint("https://auth.example.com/auth"), nil)

	redirect, ok := handler.InitiateAuth("https://me.example.com/", "http://localhost/callback").(signin.Redirect)
	assert.True(ok)

	expectedPrefix := "https://auth.example.com/auth" +
		"?client_id=https%3A%2F%2Fclient.example.com%2F" +
		"&me=https%3A%2F%2Fme.example.com%2F" +
		"&redirect_uri=http%3A%2F%2Flocalhost%2Fcallback" +
		"&response_type=id" +
		"&state="

	assert.True(strings.HasPrefix(redirect.URL, expectedPrefix))
	assert.True(len(redirect.URL) > len(expectedPrefix))
}

func TestInitiateAuthKeepsEndpointQuery(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("http://localhost"), WithClient(&http.Client{Transport: failingTransport{}}))
	assert.Nil(err)

	handler.HandlesPage("https://me.example.com/", nil, docWithEndpoint("https://auth.example.com/auth?version=2"), nil)

	redirect, ok := handler.InitiateAuth("https://me.example.com/", "http://localhost/callback").(signin.Redirect)
	assert.True(ok)

	query := urlParse(redirect.URL).Query()
	assert.Equal("2", query.Get("version"))
	assert.Equal("id", query.Get("response_type"))
}

func TestInitiateAuthWithoutEndpoint(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("http://localhost"), WithClient(&http.Client{Transport: failingTransport{}}))
	assert.Nil(err)

	d := handler.InitiateAuth("https://me.example.com/", "http://localhost/callback")
	assert.Equal(signin.Error{Message: "Failed to get IndieAuth endpoint"}, d)
}

func TestCheckCallback(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" ||
			r.Header.Get("Content-Type") != "application/x-www-form-urlencoded" ||
			r.Header.Get("Accept") != "application/json" ||
			r.FormValue("code") != "abcde" ||
			r.FormValue("client_id") != "http://localhost" ||
			r.FormValue("redirect_uri") != "http://localhost/callback" {
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"me": "https://me.example.com/"}`))
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	verified, ok := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil).(signin.Verified)
	assert.True(ok)
	assert.Equal("https://me.example.com/", verified.Identity)
	assert.Equal(map[string]any{"me": "https://me.example.com/"}, verified.Profile)
}

func TestCheckCallbackCannotBeReplayed(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"me": "https://me.example.com/"}`))
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	_, ok := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil).(signin.Verified)
	assert.True(ok)

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Invalid transaction"}, d)
}

func TestCheckCallbackWithoutState(t *testing.T) {
	assert := assert.New(t)

	handler, _ := initiated(t, &http.Client{Transport: failingTransport{}}, "https://auth.example.com/auth")

	d := handler.CheckCallback(urlParse("http://localhost/callback"), url.Values{"code": {"abcde"}}, nil)
	assert.Equal(signin.Error{Message: "No transaction provided"}, d)
}

func TestCheckCallbackWithUnknownState(t *testing.T) {
	assert := assert.New(t)

	handler, query := initiated(t, &http.Client{Transport: failingTransport{}}, "https://auth.example.com/auth")
	query.Set("state", "made-up")

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Invalid transaction"}, d)
}

func TestCheckCallbackWithExpiredTransaction(t *testing.T) {
	assert := assert.New(t)

	handler, err := New(Static("http://localhost"),
		WithClient(&http.Client{Transport: failingTransport{}}),
		WithExpiry(-time.Minute))
	assert.Nil(err)

	handler.HandlesPage("https://me.example.com/", nil, docWithEndpoint("https://auth.example.com/auth"), nil)

	redirect := handler.InitiateAuth("https://me.example.com/", "http://localhost/callback").(signin.Redirect)
	state := urlParse(redirect.URL).Query().Get("state")

	d := handler.CheckCallback(urlParse("http://localhost/callback"), url.Values{"state": {state}, "code": {"abcde"}}, nil)
	assert.Equal(signin.Error{Message: "Invalid transaction"}, d)
}

func TestCheckCallbackWithoutCode(t *testing.T) {
	assert := assert.New(t)

	handler, query := initiated(t, &http.Client{Transport: failingTransport{}}, "https://auth.example.com/auth")
	query.Del("code")

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Missing authorization code"}, d)
}

func TestCheckCallbackWhenExchangeRefused(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no thanks", http.StatusBadRequest)
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Unable to verify identity"}, d)
}

func TestCheckCallbackWhenExchangeIsNotJSON(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`{"me": "https://me.example.com/"}`))
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Unable to verify identity"}, d)
}

func TestCheckCallbackWhenExchangeIsInvalidJSON(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`me=https://me.example.com/`))
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Got invalid response JSON"}, d)
}

func TestCheckCallbackWithoutIdentity(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "No identity provided"}, d)
}

func TestCheckCallbackWithDifferentIdentity(t *testing.T) {
	assert := assert.New(t)

	authEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"me": "https://attacker.example.com/"}`))
	}))
	defer authEndpoint.Close()

	handler, query := initiated(t, authEndpoint.Client(), authEndpoint.URL)

	d := handler.CheckCallback(urlParse("http://localhost/callback"), query, nil)
	assert.Equal(signin.Error{Message: "Identity URL does not match"}, d)
}
