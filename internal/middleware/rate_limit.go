package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/orfeixyz/solara/internal/shared/config"
	"github.com/orfeixyz/solara/internal/shared/response"

	"golang.org/x/time/rate"
)

type RateLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*rate.Limiter
	mu      sync.Mutex
}

// NewRateLimiter starts a cleanup loop that lives as long as ctx.
func NewRateLimiter(ctx context.Context, cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  cfg,
		clients: make(map[string]*rate.Limiter),
	}

	if cfg.Enabled {
		go rl.cleanupClients(ctx)
	}

	return rl
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.clients[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
		rl.clients[ip] = limiter
	}
	return limiter
}

func (rl *RateLimiter) cleanupClients(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			// A full bucket means the client has been idle.
			for ip, limiter := range rl.clients {
				if limiter.TokensAt(now) >= float64(rl.config.BurstSize) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r, rl.config.TrustProxy)
		if !rl.getLimiter(ip).Allow() {
			slog.Warn("Rate limit exceeded",
				"middleware", "rate_limit",
				"client_ip", ip,
				"method", r.Method,
				"path", r.URL.Path,
			)

			w.Header().Set("Retry-After", "1")
			response.Success(w, http.StatusTooManyRequests, response.ErrorResponse{
				Error:   "rate_limited",
				Message: "rate limit exceeded",
				Code:    http.StatusTooManyRequests,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First entry is the client
			if i := strings.IndexByte(xff, ','); i != -1 {
				return strings.TrimSpace(xff[:i])
			}
			return strings.TrimSpace(xff)
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
