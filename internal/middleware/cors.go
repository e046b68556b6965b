package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds cross-origin settings for the API. The audit API is
// consumed by the clinical-documentation frontend and by operator
// dashboards, so the allowlist is explicit origins rather than a wildcard.
type CORSConfig struct {
	// AllowedOrigins is the list of origins permitted to call the API.
	// Empty disables CORS handling entirely.
	AllowedOrigins []string

	// AllowedMethods advertised on preflight. Defaults to the methods the
	// API actually serves when empty.
	AllowedMethods []string

	// AllowedHeaders advertised on preflight. Defaults to the headers the
	// API reads when empty.
	AllowedHeaders []string

	// AllowCredentials controls the Access-Control-Allow-Credentials header.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

var (
	defaultAllowedMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	defaultAllowedHeaders = []string{
		"Content-Type",
		"Authorization",
		RequestIDHeader,
	}
)

// CORS returns middleware enforcing the origin allowlist. Requests without
// an Origin header (same-origin, curl, server-to-server) pass through
// untouched. Preflight OPTIONS requests from allowed origins are answered
// directly with 204; method and header advertising happens only there, the
// actual response carries just the origin grant.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = defaultAllowedMethods
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultAllowedHeaders
	}
	methodsHeader := strings.Join(methods, ", ")
	headersHeader := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Responses differ by Origin even for rejected ones, so
			// intermediaries must not serve a cached grant cross-origin.
			w.Header().Add("Vary", "Origin")

			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methodsHeader)
				w.Header().Set("Access-Control-Allow-Headers", headersHeader)
				if cfg.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
