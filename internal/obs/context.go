package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern stores the matched chi route pattern so downstream
// middleware can label metrics and spans with a bounded-cardinality route
// instead of the raw URL path.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the stored route pattern, or "" when the
// request did not match a route.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}
