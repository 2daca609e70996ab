package sessions

import (
	"github.com/prometheus/client_golang/prometheus"

	"hawx.me/code/signin"
)

var (
	loginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signin_logins_total",
		Help: "Sign-in attempts started, by the handler that claimed them.",
	}, []string{"handler"})

	dispositions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signin_dispositions_total",
		Help: "Dispositions returned by handlers, by kind.",
	}, []string{"handler", "kind"})

	unmatchedLogins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signin_unmatched_total",
		Help: "Sign-in attempts no handler knew what to do with.",
	})
)

// RegisterMetrics registers the sign-in metrics with reg. Call it once at
// startup if you want them exported.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(loginAttempts, dispositions, unmatchedLogins)
}

func dispositionKind(d signin.Disposition) string {
	switch d.(type) {
	case signin.Redirect:
		return "redirect"
	case signin.Verified:
		return "verified"
	case signin.Notify:
		return "notify"
	case signin.Error:
		return "error"
	default:
		return "unknown"
	}
}
