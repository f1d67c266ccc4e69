package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/opsboard/opsboard-api/internal/config"
	"go.uber.org/zap"
)

// CORS returns a CORS middleware configured from the application config
// Request IDs and Location headers are always exposed to browser clients.
func CORS(cfg *config.CORSConfig, environment string, logger *zap.Logger) func(http.Handler) http.Handler {
	options := cors.Options{
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   exposedHeaders(cfg.ExposedHeaders),
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	// Handle allowed origins
	if len(cfg.AllowedOrigins) > 0 {
		for _, origin := range cfg.AllowedOrigins {
			if origin == "*" {
				if !isDevelopment(environment) {
					logger.Warn("CORS configured with wildcard origin in non-development environment",
						zap.String("environment", environment))
				}
				options.AllowOriginFunc = func(r *http.Request, origin string) bool {
					return origin != ""
				}
				break
			}
		}

		if options.AllowOriginFunc == nil {
			options.AllowedOrigins = cfg.AllowedOrigins
			logger.Info("CORS configured with explicit origins",
				zap.Strings("origins", cfg.AllowedOrigins))
		}
	} else {
		// No origins configured: development allows all, everything else denies all
		if isDevelopment(environment) {
			options.AllowOriginFunc = func(r *http.Request, origin string) bool {
				return origin != ""
			}
			logger.Info("CORS configured to allow all origins in development mode")
		} else {
			// An empty AllowedOrigins list means "*" to the cors package
			options.AllowOriginFunc = func(r *http.Request, origin string) bool {
				return false
			}
			logger.Warn("CORS configured with no allowed origins - all cross-origin requests will be denied",
				zap.String("environment", environment))
		}
	}

	return cors.Handler(options)
}

func isDevelopment(environment string) bool {
	switch environment {
	case "", "development", "local", "test":
		return true
	}
	return false
}

func exposedHeaders(configured []string) []string {
	headers := append([]string(nil), configured...)
	for _, h := range []string{"Location", "X-Request-ID"} {
		found := false
		for _, c := range headers {
			if http.CanonicalHeaderKey(c) == http.CanonicalHeaderKey(h) {
				found = true
				break
			}
		}
		if !found {
			headers = append(headers, h)
		}
	}
	return headers
}
