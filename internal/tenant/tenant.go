// Package tenant extracts the namespace a request is scoped to: the string
// partition (spec.md's ApiKeyRecord.namespace) used to filter usage
// summaries per tenant. Namespace is not a separate auth domain — every key
// belongs to exactly one namespace, set at key-creation time.
package tenant

import (
	"context"
	"net/http"
	"strings"
)

// DefaultNamespace is used when a request carries no explicit namespace and
// the resolved key has none set either.
const DefaultNamespace = "default"

type contextKey string

const namespaceContextKey contextKey = "namespace"

// FromContext retrieves the namespace from the request context, or
// DefaultNamespace if none was set.
func FromContext(ctx context.Context) string {
	if namespace, ok := ctx.Value(namespaceContextKey).(string); ok && namespace != "" {
		return namespace
	}
	return DefaultNamespace
}

// WithNamespace adds a namespace to the context.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return context.WithValue(ctx, namespaceContextKey, namespace)
}

// Extraction reads an explicit X-Namespace header into the request context.
// The gate overrides this with the resolved key's own namespace when the
// header is absent; the fallback chain is key.namespace, not a header
// default, which is why this middleware never guesses beyond the header.
func Extraction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if namespace := r.Header.Get("X-Namespace"); namespace != "" {
			ctx := WithNamespace(r.Context(), sanitizeNamespace(namespace))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// sanitizeNamespace keeps namespaces safe for use as a summary filter key
// and log field: lowercase alphanumeric, hyphen, and underscore, capped at
// 64 characters.
func sanitizeNamespace(namespace string) string {
	namespace = strings.ToLower(strings.TrimSpace(namespace))

	var sanitized strings.Builder
	for _, r := range namespace {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if result == "" {
		return DefaultNamespace
	}
	if len(result) > 64 {
		result = result[:64]
	}
	return result
}
