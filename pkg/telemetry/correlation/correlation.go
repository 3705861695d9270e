// Package correlation carries a correlation id from the inbound request
// header into logs and back out on the response.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	HeaderName = "X-Correlation-Id"
	maxLength  = 64
)

type key struct{}

func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// ContextWithCorrelationID stores id on ctx. Blank or malformed ids are
// ignored.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if !valid(id) {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// EnsureCorrelationID returns ctx carrying a correlation id, minting a ULID
// when none is present.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, key{}, id), id
}

// FromHeader adopts the caller supplied header value when it is usable and
// otherwise mints a new id.
func FromHeader(ctx context.Context, header string) (context.Context, string) {
	return EnsureCorrelationID(ContextWithCorrelationID(ctx, header))
}

// valid accepts ULIDs, UUIDs and similar opaque tokens. Anything longer or
// carrying other characters would be echoed into logs and response headers.
func valid(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
