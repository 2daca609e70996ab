// Command example runs a small site that can sign users in with IndieAuth
// or an emailed magic link. The "sent" emails are written to the log, so
// the whole flow can be tried locally without an SMTP server.
package main

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"hawx.me/code/signin"
	"hawx.me/code/signin/email"
	"hawx.me/code/signin/indieauth"
	"hawx.me/code/signin/sessions"
)

type config struct {
	Addr          string `mapstructure:"ADDR"`
	BaseURL       string `mapstructure:"BASE_URL"`
	SecretKey     string `mapstructure:"SECRET_KEY"`
	ClientID      string `mapstructure:"CLIENT_ID"`
	EmailLifetime string `mapstructure:"EMAIL_LIFETIME"`
	PendingTTL    string `mapstructure:"PENDING_TTL"`
}

func loadConfig() (*config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("CLIENT_ID", "")
	v.SetDefault("EMAIL_LIFETIME", "15m")
	v.SetDefault("PENDING_TTL", "10m")

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.SecretKey == "" {
		return nil, errors.New("config: SECRET_KEY must be set")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = cfg.BaseURL
	}

	return &cfg, nil
}

func (c *config) duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	emailHandler, err := email.New([]byte(cfg.SecretKey), logSender,
		email.WithLifetime(cfg.duration(cfg.EmailLifetime, 15*time.Minute)))
	if err != nil {
		return err
	}

	indieHandler, err := indieauth.New(indieauth.Static(cfg.ClientID),
		indieauth.WithExpiry(cfg.duration(cfg.PendingTTL, 10*time.Minute)))
	if err != nil {
		return err
	}

	auth := signin.New(emailHandler, indieHandler)

	site, err := sessions.New([]byte(cfg.SecretKey), cfg.BaseURL, auth, &renderer{})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	sessions.RegisterMetrics(registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/", site.Choose(welcome(site), http.HandlerFunc(hello)))
	mux.HandleFunc("/sign-in", site.SignIn())
	mux.HandleFunc("/callback", site.Callback())
	mux.HandleFunc("/sign-out", site.SignOut())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	slog.Info("listening", "addr", cfg.Addr, "base", cfg.BaseURL)
	return http.ListenAndServe(cfg.Addr, mux)
}

// logSender pretends to deliver email by logging it, which is all a demo
// needs.
func logSender(to, body string) error {
	slog.Info("sending login email", "to", to, "body", body)
	return nil
}

func hello(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<!doctype html>
<p>Hello, whoever you are. <a href="/sign-in">Sign in</a>.</p>`)
}

func welcome(site *sessions.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := site.SignedIn(r)
		fmt.Fprintf(w, `<!doctype html>
<p>Welcome back, %s. <a href="/sign-out">Sign out</a>.</p>`, template.HTMLEscapeString(me))
	}
}

type renderer struct{}

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<title>Sign in</title>
{{range .Flashes}}<p class="flash">{{.}}</p>{{end}}
<form action="/sign-in" method="get">
  <label for="me">Sign in as:</label>
  <input id="me" name="me" placeholder="you@example.com or https://you.example.com">
  <input type="hidden" name="redir" value="{{.Redir}}">
  <button type="submit">Go</button>
</form>
<ul>
{{range .Handlers}}  <li>{{.Name}}{{range .Schemes}} <code>{{.Pattern}}</code>{{end}}</li>
{{end}}</ul>`))

var notifyTmpl = template.Must(template.New("notify").Parse(`<!doctype html>
<title>One more step</title>
<p>{{.Message}}</p>`))

func (renderer) Login(w http.ResponseWriter, data sessions.LoginData) error {
	return loginTmpl.Execute(w, data)
}

func (renderer) Notify(w http.ResponseWriter, data sessions.NotifyData) error {
	return notifyTmpl.Execute(w, data)
}
