package halo

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterMap hands out one token bucket per client key and forgets clients
// that stayed idle for limiterIdleTTL.
type limiterMap struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	clock   func() time.Time
	sweptAt time.Time
}

func newLimiterMap(limit rate.Limit, burst int, clock func() time.Time) *limiterMap {
	if clock == nil {
		clock = time.Now
	}
	return &limiterMap{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		clock:   clock,
	}
}

// reserve takes a token for key. When none is available it returns how long
// the client should wait.
func (m *limiterMap) reserve(key string) (time.Duration, bool) {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.sweptAt) > limiterIdleTTL {
		for k, c := range m.clients {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(m.clients, k)
			}
		}
		m.sweptAt = now
	}
	c, ok := m.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.clients[key] = c
	}
	c.lastSeen = now
	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func clientKey(r *http.Request) string {
	if apiKey, ok := bearerToken(r.Header.Get("Authorization")); ok && apiKey != "" {
		return "key:" + apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

func newRateLimitMiddleware(limits *limiterMap, metrics *Metrics) Middleware {
	if limits == nil {
		return nil
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if wait, ok := limits.reserve(clientKey(r)); !ok {
				metrics.observeRateLimited()
				writeJSONError(w, NewRateLimitExceededError("too many requests", WithRetryAfter(wait)))
				return
			}
			next(w, r)
		}
	}
}
