package sessions

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"hawx.me/code/assert"

	"hawx.me/code/signin"
)

func TestRegisterMetrics(t *testing.T) {
	RegisterMetrics(prometheus.NewRegistry())
}

func TestDispositionKind(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("redirect", dispositionKind(signin.Redirect{}))
	assert.Equal("verified", dispositionKind(signin.Verified{}))
	assert.Equal("notify", dispositionKind(signin.Notify{}))
	assert.Equal("error", dispositionKind(signin.Error{}))
	assert.Equal("unknown", dispositionKind(nil))
}
