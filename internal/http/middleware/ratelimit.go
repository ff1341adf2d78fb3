package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter guarda um token bucket por chave. Entradas sem uso por maxAge
// são descartadas na próxima criação.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	maxAge time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter cria o limiter. burst menor que 1 vira 1.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		maxAge:  10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

// Allow consome um token da chave.
func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		for k, old := range l.buckets {
			if now.Sub(old.lastSeen) > l.maxAge {
				delete(l.buckets, k)
			}
		}
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (l *RateLimiter) limitBy(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key != "" && !l.Allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT", "limite de requisições excedido")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit usa o IP do cliente como chave. Aplicado no login.
func IPRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return l.limitBy(realIPFromRequest)
}

// UserRateLimit usa o usuário autenticado como chave.
func UserRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return l.limitBy(func(r *http.Request) string {
		return GetSubject(r.Context())
	})
}

// EmpresaRateLimit agrupa pelo par tenant/empresa, protegendo a cota da
// empresa junto à SEFAZ independente de quantos usuários ela tenha.
func EmpresaRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return l.limitBy(func(r *http.Request) string {
		tenant, empresa := GetTenant(r.Context()), GetEmpresa(r.Context())
		if tenant == "" || empresa == "" {
			return ""
		}
		return tenant + ":" + empresa
	})
}

func realIPFromRequest(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
