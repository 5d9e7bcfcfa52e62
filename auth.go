package lockbox

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/twitchtv/twirp"
	"github.com/yiplee/go-cache"
)

// User is the authenticated caller resolved from the bearer token.
type User struct {
	ID    string `json:"id"`
	Token string `json:"-"`
}

// Authorizer confirms the caller controls the claimed identity for the
// current operation.
type Authorizer interface {
	Require(ctx context.Context, id string) error
}

// ContextAuthorizer trusts the identity the auth middleware resolved into
// the context.
type ContextAuthorizer struct{}

var _ Authorizer = ContextAuthorizer{}

func (ContextAuthorizer) Require(ctx context.Context, id string) error {
	user, ok := UserFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no caller", ErrAuthorizationFailed)
	}

	if user.ID != id {
		return fmt.Errorf("%w: caller %s is not %s", ErrAuthorizationFailed, user.ID, id)
	}

	return nil
}

func extractBearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	return strings.TrimPrefix(token, "Bearer ")
}

func handleAuth(issuer string, secret []byte) func(next http.Handler) http.Handler {
	users := cache.New[string, *User]()

	keyFn := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		return secret, nil
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := extractBearerToken(r)

			if user, ok := users.Get(token); ok {
				next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
				return
			}

			var claim jwt.StandardClaims
			if _, err := jwt.ParseWithClaims(token, &claim, keyFn); err != nil {
				_ = twirp.WriteError(w, twirp.Unauthenticated.Error(err.Error()))
				return
			}

			if claim.Issuer != issuer || !validName(claim.Subject) {
				_ = twirp.WriteError(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
				return
			}

			user := &User{
				ID:    claim.Subject,
				Token: token,
			}

			users.Set(token, user)
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
		}

		return http.HandlerFunc(fn)
	}
}
