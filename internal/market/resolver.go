// Package market resolves the shopper's market and loyalty membership for a request.
package market

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const (
	marketKey contextKey = "market.code"
	familyKey contextKey = "market.family"
)

// Resolver reads the market from a header, a query parameter or the request
// subdomain, and the membership flag from a header or query parameter.
type Resolver struct {
	HeaderName       string
	FamilyHeaderName string
	RootDomain       string
	DefaultMarket    string
	// Known limits subdomain matches to supported markets; nil accepts any.
	Known func(code string) bool
}

// NewResolver returns a resolver with the default header names.
func NewResolver(rootDomain, defaultMarket string, known func(string) bool) *Resolver {
	return &Resolver{
		HeaderName:       "X-Market",
		FamilyHeaderName: "X-Family-Member",
		RootDomain:       strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultMarket:    strings.ToLower(strings.TrimSpace(defaultMarket)),
		Known:            known,
	}
}

// Middleware stores the resolved market and membership flag on the request context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if code := r.Resolve(req); code != "" {
			ctx = With(ctx, code)
		}
		ctx = WithFamilyMember(ctx, r.familyMember(req))
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// Resolve returns the market code for the request, or the default.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if code := normalize(req.Header.Get(r.headerName())); code != "" {
		return code
	}
	if code := normalize(req.URL.Query().Get("market")); code != "" {
		return code
	}
	if code := r.subdomain(req.Host); code != "" && (r.Known == nil || r.Known(code)) {
		return code
	}
	return r.DefaultMarket
}

func (r *Resolver) headerName() string {
	if r.HeaderName == "" {
		return "X-Market"
	}
	return r.HeaderName
}

func (r *Resolver) familyMember(req *http.Request) bool {
	name := r.FamilyHeaderName
	if name == "" {
		name = "X-Family-Member"
	}
	if v := req.Header.Get(name); strings.TrimSpace(v) != "" {
		return parseBool(v)
	}
	return parseBool(req.URL.Query().Get("family"))
}

func (r *Resolver) subdomain(hostport string) string {
	host := strings.ToLower(hostWithoutPort(hostport))
	if host == "" || r.RootDomain == "" || host == r.RootDomain {
		return ""
	}
	suffix := "." + r.RootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	labels := strings.Split(strings.TrimSuffix(host, suffix), ".")
	return normalize(labels[len(labels)-1])
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// With stores the market code on the context.
func With(ctx context.Context, code string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, marketKey, normalize(code))
}

// FromContext returns the market code stored on the context.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	code, ok := ctx.Value(marketKey).(string)
	if !ok || code == "" {
		return "", false
	}
	return code, true
}

// WithFamilyMember stores the membership flag on the context.
func WithFamilyMember(ctx context.Context, member bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, familyKey, member)
}

// IsFamilyMember reports the membership flag stored on the context.
func IsFamilyMember(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	member, _ := ctx.Value(familyKey).(bool)
	return member
}
