package gateway

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/metasound/musiphone/internal/cluster"
)

// idle limiters are swept once the table grows past this
const maxLimiters = 4096

type limiter struct {
	*rate.Limiter
	seen time.Time
}

// limiters is a per-host token bucket table. A nil table allows everything.
type limiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	table map[string]*limiter
	now   func() time.Time
}

func newLimiters(rps float64, burst int) *limiters {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limiters{
		rps:   rate.Limit(rps),
		burst: burst,
		table: make(map[string]*limiter),
		now:   time.Now,
	}
}

func (l *limiters) allow(host string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim, ok := l.table[host]
	if !ok {
		if len(l.table) >= maxLimiters {
			l.sweepLocked(now)
		}
		lim = &limiter{Limiter: rate.NewLimiter(l.rps, l.burst)}
		l.table[host] = lim
	}
	lim.seen = now
	return lim.AllowN(now, 1)
}

// sweepLocked drops limiters whose bucket has refilled, they carry no state
func (l *limiters) sweepLocked(now time.Time) {
	full := time.Duration(float64(l.burst) / float64(l.rps) * float64(time.Second))
	for host, lim := range l.table {
		if now.Sub(lim.seen) > full {
			delete(l.table, host)
		}
	}
}

// NetworkAccess resolves the client address, stores it on the request
// context and applies the per-client rate limit.
func (g *Gateway) NetworkAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.RemoteAddr
		if !g.limits.allow(cluster.Host(addr)) {
			WriteError(w, r, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClientAddress(r.Context(), addr)))
	})
}
