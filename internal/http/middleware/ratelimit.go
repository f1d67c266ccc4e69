package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"go.uber.org/zap"
)

// Caller classes, each with its own budget
const (
	callerAddress = "address"
	callerUser    = "user"
	callerAPIKey  = "api_key"
)

// RateLimiter applies per-minute budgets to API callers. Routes that must never be
// throttled, such as health checks and processor webhooks, are mounted outside it.
type RateLimiter struct {
	enabled  bool
	logger   *zap.Logger
	clientIP httprate.KeyFunc
	budgets  map[string]*httprate.RateLimiter
}

// NewRateLimiter builds one sliding window limiter per caller class
func NewRateLimiter(cfg *config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		enabled:  cfg.Enabled,
		logger:   logger.Named("ratelimit"),
		clientIP: httprate.KeyByIP,
	}
	if cfg.TrustProxyHeaders {
		rl.clientIP = httprate.KeyByRealIP
	}

	rl.budgets = map[string]*httprate.RateLimiter{
		callerAddress: rl.newBudget(callerAddress, cfg.RequestsPerMinute),
		callerUser:    rl.newBudget(callerUser, cfg.RequestsPerMinuteUser),
		callerAPIKey:  rl.newBudget(callerAPIKey, cfg.RequestsPerMinuteAPIKey),
	}

	if cfg.Enabled {
		rl.logger.Info("Rate limiter initialized",
			zap.Int("per_address", cfg.RequestsPerMinute),
			zap.Int("per_user", cfg.RequestsPerMinuteUser),
			zap.Int("per_api_key", cfg.RequestsPerMinuteAPIKey),
			zap.Bool("trust_proxy_headers", cfg.TrustProxyHeaders),
		)
	}
	return rl
}

func (rl *RateLimiter) newBudget(class string, perMinute int) *httprate.RateLimiter {
	return httprate.NewRateLimiter(perMinute, time.Minute,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			rl.reject(w, r, class)
		}),
	)
}

// ByAddress limits each client address. It runs before authentication so
// requests with bad credentials are throttled too.
func (rl *RateLimiter) ByAddress(next http.Handler) http.Handler {
	if !rl.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, err := rl.clientIP(r)
		if err != nil {
			ip = r.RemoteAddr
		}
		if rl.budgets[callerAddress].RespondOnLimit(w, r, "ip:"+ip) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ByCaller limits authenticated callers. API key callers and signed-in users draw
// from separate budgets so automation cannot starve people using the dashboard.
func (rl *RateLimiter) ByCaller(next http.Handler) http.Handler {
	if !rl.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class, key := rl.callerKey(r)
		if rl.budgets[class].RespondOnLimit(w, r, key) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) callerKey(r *http.Request) (class, key string) {
	user, ok := auth.FromContext(r.Context())
	switch {
	case !ok || user == nil:
		ip, _ := rl.clientIP(r)
		return callerAddress, "ip:" + ip
	case user.Method == auth.AuthMethodAPIKey:
		return callerAPIKey, "key:" + user.UserID
	default:
		return callerUser, "user:" + user.UserID
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, class string) {
	ip, _ := rl.clientIP(r)
	rl.logger.Warn("Rate limit exceeded",
		zap.String("caller", class),
		zap.String("user_id", auth.UserIDFromContext(r.Context())),
		zap.String("client_ip", ip),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(domain.APIError{
		Type:   "rate_limited",
		Title:  http.StatusText(http.StatusTooManyRequests),
		Status: http.StatusTooManyRequests,
		Detail: "Too many requests. Please try again later.",
	})
}
