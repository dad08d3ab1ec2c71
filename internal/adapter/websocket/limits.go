package websocket

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleExpiry      = 10 * time.Minute
)

// LimitReason describes why a feed connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits caps concurrent feed connections in total and per IP, and
// the rate of new connections per IP.
type ConnectionLimits struct {
	maxTotal int
	maxPerIP int
	rate     rate.Limit
	burst    int

	mu        sync.Mutex
	total     int
	perIP     map[string]int
	limiters  map[string]*limiterEntry
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(maxTotal, maxPerIP int, connectionsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		maxTotal:  maxTotal,
		maxPerIP:  maxPerIP,
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		perIP:     make(map[string]int),
		limiters:  make(map[string]*limiterEntry),
		cleanupAt: time.Now().Add(limiterCleanupInterval),
	}
}

// Acquire reserves a slot for ip. On failure nothing is reserved.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	if !entry.limiter.Allow() {
		return false, LimitReasonRate
	}

	if l.total >= l.maxTotal {
		return false, LimitReasonGlobal
	}
	if l.perIP[ip] >= l.maxPerIP {
		return false, LimitReasonPerIP
	}
	l.total++
	l.perIP[ip]++
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.perIP[ip]; n > 0 {
		if n == 1 {
			delete(l.perIP, ip)
		} else {
			l.perIP[ip] = n - 1
		}
		l.total--
	}
}

// Current returns the number of reserved slots.
func (l *ConnectionLimits) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// cleanup drops idle rate limiters. Caller holds mu.
func (l *ConnectionLimits) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleExpiry)
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) && l.perIP[ip] == 0 {
			delete(l.limiters, ip)
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
