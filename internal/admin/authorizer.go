// Package admin implements bearer-JWT request authorization and the admin
// HTTP surface (reload, prewarm CRUD, purge, cache stats).
package admin

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yatagarasu/yatagarasu/internal/apierror"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

// Claims is the subset of a bearer token's claims the proxy inspects.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authorizer validates a request's credentials and reports whether it may
// proceed.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// None lets every request through; it is the default when a bucket has no
// authorizer configured.
type None struct{}

func (None) Authorize(*http.Request) error { return nil }

// BearerJWT validates an HMAC-signed bearer token from the Authorization
// header, grounded on the corpus's admin-token middleware shape: extract,
// parse with a fixed signing method, reject on any claim error.
type BearerJWT struct {
	secret     []byte
	requiredRole string
}

// NewBearerJWT builds a BearerJWT authorizer from a bucket or admin
// AuthorizerConfig. requiredRole may be empty to accept any valid token.
func NewBearerJWT(cfg config.AuthorizerConfig, requiredRole string) *BearerJWT {
	return &BearerJWT{secret: []byte(cfg.JWTSecret), requiredRole: requiredRole}
}

func (b *BearerJWT) Authorize(r *http.Request) error {
	raw := extractBearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return apierror.New(apierror.Unauthorized, "missing bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New(apierror.Unauthorized, "unexpected signing method")
		}
		return b.secret, nil
	})
	if err != nil || !token.Valid {
		return apierror.Wrap(apierror.Unauthorized, "invalid bearer token", err)
	}

	if b.requiredRole != "" && claims.Role != b.requiredRole {
		return apierror.New(apierror.Forbidden, "token does not carry the required role")
	}

	return nil
}

func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// New builds the Authorizer named by cfg, defaulting to None when Type is
// empty. It accepts any role a valid token carries; use NewAdmin for the
// admin surface, which requires role=admin.
func New(cfg config.AuthorizerConfig) Authorizer {
	switch cfg.Type {
	case "bearer_jwt":
		return NewBearerJWT(cfg, "")
	default:
		return None{}
	}
}

// NewAdmin builds the Authorizer guarding the admin HTTP surface: same
// bearer-JWT validation as New, but the token's role claim must equal
// "admin". An unconfigured admin authorizer (Type == "") still falls back to
// None, same as New — operators who haven't set admin_auth get no admin
// authentication, matching the teacher's "unconfigured means disabled"
// convention rather than failing closed.
func NewAdmin(cfg config.AuthorizerConfig) Authorizer {
	switch cfg.Type {
	case "bearer_jwt":
		return NewBearerJWT(cfg, "admin")
	default:
		return None{}
	}
}
