package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ProfileReader loads profiles for access gating.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (types.Profile, error)
}

// RequireActive lets through only members whose access status is ACTIVE.
// Statuses are read through the cache and refreshed from the store on a
// miss. It must run after RequireAuth.
func RequireActive(profiles ProfileReader, statuses cache.StatusCache, logger *zap.Logger) func(http.Handler) http.Handler {
	if statuses == nil {
		statuses = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			entry, err := statuses.Get(r.Context(), userID)
			if err != nil {
				if !errors.Is(err, cache.ErrMiss) {
					logger.Warn("read status cache", zap.String("user_id", userID), zap.Error(err))
				}
				// Taken before the store read so a concurrent Invalidate
				// voids the refill below.
				version, verErr := statuses.Version(r.Context(), userID)
				profile, err := profiles.GetByID(r.Context(), userID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						writeError(w, http.StatusForbidden, "onboarding required")
						return
					}
					writeError(w, http.StatusInternalServerError, "failed to load profile")
					return
				}
				entry = cache.StatusEntry{
					Role:          profile.Role,
					StatusAccess:  profile.StatusAccess,
					VerifiedBadge: profile.VerifiedBadge,
				}
				if verErr != nil {
					logger.Warn("read status cache version", zap.String("user_id", userID), zap.Error(verErr))
				} else if err := statuses.Set(r.Context(), userID, entry, version); err != nil && !errors.Is(err, cache.ErrStale) {
					logger.Warn("write status cache", zap.String("user_id", userID), zap.Error(err))
				}
			}

			if !entry.StatusAccess.GrantsAccess() {
				writeJSON(w, http.StatusForbidden, AccessDeniedResponse{
					Error:        "access not active",
					StatusAccess: entry.StatusAccess,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type AccessDeniedResponse struct {
	Error        string             `json:"error"`
	StatusAccess types.AccessStatus `json:"status_access"`
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote_ip", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Instrument records request counts and latencies by route pattern.
func Instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			m.Duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
