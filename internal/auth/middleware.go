package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

type ctxKey struct{}

func WithActor(ctx context.Context, a orders.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFrom(ctx context.Context) (orders.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(orders.Actor)
	return a, ok
}

// tokenFrom accepts the bare "token" header used by the web client as well
// as a standard bearer token.
func tokenFrom(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("token")); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware rejects requests without a valid token and puts the caller
// into the request context.
func Middleware(log *slog.Logger, v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := tokenFrom(r)
			if tok == "" {
				unauthorized(w)
				return
			}
			actor, _, err := v.Verify(tok)
			if err != nil {
				log.Debug("token rejected", "err", err, "path", r.URL.Path)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  http.StatusUnauthorized,
		"message": "Unauthorized",
		"data":    nil,
	})
}
