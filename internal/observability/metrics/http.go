package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware returns HTTP middleware for request metrics.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			duration := time.Since(start).Seconds()
			path := normalizePath(r.URL.Path)

			httpRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(rw.status),
			).Inc()

			httpDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		}()

		next.ServeHTTP(rw, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures status code.
func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// normalizePath converts dynamic path segments to placeholders to avoid
// high cardinality metrics. For example:
//
//	/api/v1/deploy/deployment-status/6a1f... -> /api/v1/deploy/deployment-status/{id}
func normalizePath(path string) string {
	if path == "/health" || path == "/healthz" || path == "/readyz" || path == "/metrics" {
		return path
	}

	if strings.HasPrefix(path, "/api/v1/") {
		parts := strings.Split(path[8:], "/")
		if len(parts) < 2 {
			return path
		}
		resource := parts[0]

		var normalized []string
		normalized = append(normalized, "/api/v1", resource)
		for i := 1; i < len(parts); i++ {
			part := parts[i]
			if part == "" {
				continue
			}
			if isLikelyID(part) {
				normalized = append(normalized, "{id}")
			} else {
				normalized = append(normalized, part)
			}
		}
		return strings.Join(normalized, "/")
	}
	return path
}

// isLikelyID returns true if segment looks like an identifier: a
// request UUID, a fingerprint hash, or a bare number.
func isLikelyID(segment string) bool {
	if len(segment) >= 32 && isHex(strings.ReplaceAll(segment, "-", "")) {
		return true
	}
	if strings.Count(segment, "-") >= 4 {
		return true
	}
	if isNumeric(segment) {
		return true
	}
	return false
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return len(s) > 0
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
