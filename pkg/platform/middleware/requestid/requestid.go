// Package requestid assigns each request an identifier for log correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"vanscontrol/pkg/requestcontext"
)

// Header carries the request id on responses and may supply one on requests.
const Header = "X-Request-Id"

// Middleware propagates the inbound request id, generating one when absent,
// and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
