package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/types"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyClaims
	ctxKeyActor
)

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func claimsFrom(r *http.Request) *authz.Claims {
	if c, ok := r.Context().Value(ctxKeyClaims).(*authz.Claims); ok {
		return c
	}
	return nil
}

func actorFrom(r *http.Request) string {
	if a, ok := r.Context().Value(ctxKeyActor).(string); ok && a != "" {
		return a
	}
	return "local"
}

// statusWriter captures the response status for the analytics collector.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// route wraps a handler with request identity, bearer auth, the permission
// check, and per-request analytics.
func (s *Server) route(perm authz.Permission, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, uuid.NewString())

		claims, err := s.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
			return
		}
		actor := r.Header.Get("X-Signet-Actor")
		if claims != nil {
			ctx = context.WithValue(ctx, ctxKeyClaims, claims)
			if actor == "" {
				actor = claims.Subject
			}
		}
		if actor != "" {
			ctx = context.WithValue(ctx, ctxKeyActor, actor)
		}
		r = r.WithContext(ctx)

		if !authz.CheckPermission(claims, perm, s.cfg.AuthMode) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error": "permission denied",
			})
			s.collector.RecordRequest(r.Method, patternPath(r), actorFrom(r),
				http.StatusForbidden, time.Since(start))
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		s.collector.RecordRequest(r.Method, patternPath(r), actorFrom(r),
			sw.status, time.Since(start))
	}
}

// authenticate parses the bearer token when the mode requires one. Local
// modes skip tokens entirely; hybrid accepts requests without a token and
// still verifies one when presented.
func (s *Server) authenticate(r *http.Request) (*authz.Claims, error) {
	if s.cfg.AuthMode == authz.ModeLocal || s.cfg.AuthMode == authz.ModeLocalNoToken {
		return nil, nil
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		if s.cfg.AuthMode == authz.ModeHybrid {
			return nil, nil
		}
		return nil, errUnauthorized("missing bearer token")
	}
	claims, err := authz.DecodeToken(token, s.cfg.Secret, time.Now())
	if err != nil {
		return nil, errUnauthorized("invalid token: " + err.Error())
	}
	return claims, nil
}

type authError string

func (e authError) Error() string { return string(e) }

func errUnauthorized(msg string) error { return authError(msg) }

// patternPath is the registered route pattern without the method qualifier,
// so analytics aggregates by route instead of by raw URL.
func patternPath(r *http.Request) string {
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

// allow applies one rate-limited operation for key, recording it when
// admitted. A rejection carries the seconds until the window resets.
func (s *Server) allow(op, key string) error {
	limiter, ok := s.limiters[op]
	if !ok {
		return nil
	}
	d := limiter.Check(key)
	if !d.Allowed {
		retryAfter := int(time.Until(d.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return types.NewRateLimited(op, retryAfter)
	}
	limiter.Record(key)
	return nil
}

// scopeOK verifies the caller's claims against the target scope, writing a
// 403 on denial.
func (s *Server) scopeOK(w http.ResponseWriter, r *http.Request, target authz.Scope) bool {
	if authz.CheckScope(claimsFrom(r), target, s.cfg.AuthMode) {
		return true
	}
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error": "credential scope does not cover this target",
	})
	return false
}
