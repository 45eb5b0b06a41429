package web

import (
	"net/http"

	"github.com/JonMunkholm/stockimport/internal/core"
	webmw "github.com/JonMunkholm/stockimport/internal/web/middleware"
)

// clientMetadata stores the caller's IP and User-Agent in the request
// context so the service can log who submitted a job.
func clientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithClient(r.Context(), webmw.ClientIP(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
