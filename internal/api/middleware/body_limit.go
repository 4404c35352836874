package middleware

import (
	"context"
	"io"
	"net/http"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/domain"
)

type rawBodyKey struct{}

// BodyLimit caps the request body at limit bytes. Nested limits do not
// stack: an inner BodyLimit replaces the outer one, so a route that accepts
// whole documents can allow more than the router-wide default.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.HandleError(w, domain.ErrPayloadTooLarge)
				return
			}

			raw, ok := r.Context().Value(rawBodyKey{}).(io.ReadCloser)
			if !ok {
				raw = r.Body
				r = r.WithContext(context.WithValue(r.Context(), rawBodyKey{}, raw))
			}
			r.Body = http.MaxBytesReader(w, raw, limit)
			next.ServeHTTP(w, r)
		})
	}
}
