package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// Authenticator is satisfied by *authcore.Engine.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (authcore.Identity, error)
}

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by Guard.
func IdentityFromContext(ctx context.Context) (authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(authcore.Identity)
	return id, ok
}

// Guard rejects requests without a valid bearer access token and stores the verified
// identity in the request context.
func Guard(engine Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w, "")
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "")
				return
			}

			id, err := engine.Authenticate(r.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, authcore.ErrTransient):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			case errors.Is(err, authcore.ErrTokenExpired):
				unauthorized(w, "token expired")
				return
			default:
				unauthorized(w, "invalid_token")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	challenge := `Bearer`
	switch detail {
	case "":
	case "token expired":
		challenge += ` error="invalid_token", error_description="token expired"`
	default:
		challenge += ` error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// BearerToken extracts the token from an Authorization header value. The scheme is
// matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
