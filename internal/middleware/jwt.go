package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator is what the middleware needs from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}

		// Browsers cannot set headers on a WebSocket handshake.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, username)))
	})
}

// WithIdentity stores the authenticated user on ctx.
func WithIdentity(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// Identity returns the authenticated user stored by Handle.
func Identity(ctx context.Context) (userID, username string, ok bool) {
	userID, ok1 := ctx.Value(UserKey).(string)
	username, ok2 := ctx.Value(UsernameKey).(string)
	return userID, username, ok1 && ok2 && userID != ""
}
