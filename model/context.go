package model

import (
	"context"
	"errors"
	"slices"
)

// RequestContext carries the caller identity and tracing information of a
// request. Token is the raw bearer token, forwarded verbatim to the records
// backend. It is immutable after construction.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	Token         string
	CorrelationID string
	TraceID       string
	SpanID        string
	Locale        string
}

// Validate checks that the authenticated subject is known.
func (rc *RequestContext) Validate() error {
	if rc.SubjectID == "" {
		return errors.New("SubjectID is required")
	}
	return nil
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// LocaleFrom returns the caller's locale, or fallback when none is known.
func LocaleFrom(ctx context.Context, fallback string) string {
	if rctx := RequestContextFrom(ctx); rctx != nil && rctx.Locale != "" {
		return rctx.Locale
	}
	return fallback
}
