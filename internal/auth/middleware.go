package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"
)

type ctxKey struct{}

// WithAccount stores the authenticated account on ctx.
func WithAccount(ctx context.Context, a *entity.Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// AccountFrom returns the account stored by RequireAccount, if any.
func AccountFrom(ctx context.Context) (*entity.Account, bool) {
	a, ok := ctx.Value(ctxKey{}).(*entity.Account)
	return a, ok && a != nil
}

// AccountLookup resolves a token subject to the current account state.
type AccountLookup interface {
	AccountByEmail(ctx context.Context, email string) (*entity.Account, error)
}

// RequireAccount rejects requests without a valid bearer token for an
// existing, non-blocked account.
func RequireAccount(issuer *Issuer, lookup AccountLookup, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
				unauthorized(w)
				return
			}
			subject, err := issuer.Parse(strings.TrimSpace(header[len("bearer "):]))
			if err != nil {
				logger.Debugw("token rejected", "err", err)
				unauthorized(w)
				return
			}
			a, err := lookup.AccountByEmail(r.Context(), subject)
			if err != nil || a.Blocked() {
				logger.Debugw("token subject rejected", "subject", subject, "err", err)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), a)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "could not validate credentials"})
}
