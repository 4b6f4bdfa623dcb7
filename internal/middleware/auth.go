package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/utils"
)

type contextKey string

const AccountContextKey contextKey = "account"

// AccountLookup resolves the account named by a token
type AccountLookup interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
}

// Authenticate attaches the account behind a valid Bearer (or JWT) token.
// Requests without one pass through anonymously; handlers decide what an
// anonymous caller may do.
func Authenticate(accounts AccountLookup, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := BearerToken(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := utils.AccountIDFromAccessToken(tokenString, secret)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			account, err := accounts.GetByID(r.Context(), id)
			if err != nil {
				log.Printf("⚠️ Token names unknown account %d: %v", id, err)
				next.ServeHTTP(w, r)
				return
			}
			if account.Banned {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), AccountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from "Bearer <t>" or "JWT <t>"
func BearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 {
		return ""
	}
	switch strings.ToLower(parts[0]) {
	case "bearer", "jwt":
		return parts[1]
	}
	return ""
}

// AccountFromContext returns the authenticated account, or nil
func AccountFromContext(ctx context.Context) *models.Account {
	account, _ := ctx.Value(AccountContextKey).(*models.Account)
	return account
}
