// Package session identifies the anonymous shopper session a request belongs to.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// Resolver reads the session id from a header or cookie and issues a new
// one when neither is present.
type Resolver struct {
	HeaderName string
	CookieName string
	TTL        time.Duration
	Secure     bool
	NewID      func() string
}

// Middleware stores the session id on the request context, setting the cookie for new sessions.
func (r Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := r.Resolve(req)
		if id == "" {
			id = r.newID()
			http.SetCookie(w, &http.Cookie{
				Name:     r.cookieName(),
				Value:    id,
				Path:     "/",
				MaxAge:   int(r.ttl().Seconds()),
				HttpOnly: true,
				Secure:   r.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(r.headerName(), id)
		next.ServeHTTP(w, req.WithContext(With(req.Context(), id)))
	})
}

// Resolve returns the session id carried by the request, or "".
func (r Resolver) Resolve(req *http.Request) string {
	if id := clean(req.Header.Get(r.headerName())); id != "" {
		return id
	}
	if c, err := req.Cookie(r.cookieName()); err == nil {
		return clean(c.Value)
	}
	return ""
}

func (r Resolver) headerName() string {
	if r.HeaderName == "" {
		return "X-Buyback-Session"
	}
	return r.HeaderName
}

func (r Resolver) cookieName() string {
	if r.CookieName == "" {
		return "buyback_session"
	}
	return r.CookieName
}

func (r Resolver) ttl() time.Duration {
	if r.TTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return r.TTL
}

func (r Resolver) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// clean accepts only UUIDs so ids are safe to embed in storage keys.
func clean(raw string) string {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

// With stores the session id on the context.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the session id stored on the context.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
