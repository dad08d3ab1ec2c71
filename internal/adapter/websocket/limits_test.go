package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimits_Global(t *testing.T) {
	l := NewConnectionLimits(2, 5, 100, 100)

	ok, _ := l.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Acquire("10.0.0.2")
	assert.True(t, ok)

	ok, reason := l.Acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	l.Release("10.0.0.1")
	ok, _ = l.Acquire("10.0.0.3")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Current())
}

func TestConnectionLimits_PerIP(t *testing.T) {
	l := NewConnectionLimits(10, 2, 100, 100)

	for range 2 {
		ok, _ := l.Acquire("10.0.0.1")
		assert.True(t, ok)
	}
	ok, reason := l.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	ok, _ = l.Acquire("10.0.0.2")
	assert.True(t, ok, "other IPs are independent")
}

func TestConnectionLimits_Rate(t *testing.T) {
	l := NewConnectionLimits(10, 10, 0.01, 1)

	ok, _ := l.Acquire("10.0.0.1")
	assert.True(t, ok)
	l.Release("10.0.0.1")

	ok, reason := l.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)
	assert.Equal(t, 0, l.Current())
}

func TestConnectionLimits_ReleaseUnknownIsNoop(t *testing.T) {
	l := NewConnectionLimits(1, 1, 100, 100)
	l.Release("10.0.0.9")
	assert.Equal(t, 0, l.Current())
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/anomalies", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "192.0.2.7", remoteIP(r))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", remoteIP(r))
}
