package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"stayops/internal/logging"
)

const (
	cronPrefix = "/api/cron/"
	orgsPrefix = "/api/orgs/"
)

type AuthConfig struct {
	// CronSecret guards the sweep trigger endpoints.
	CronSecret string
	// JWTSecret verifies HS256 operator tokens for tenant endpoints.
	JWTSecret string
}

// Principal is the operator behind a verified JWT.
type Principal struct {
	UserID string
	OrgID  string
	Role   string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type jwtClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Role  string `json:"role,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	if claims.OrgID == "" {
		return Principal{}, errors.New("org_id claim required")
	}
	return Principal{UserID: claims.Subject, OrgID: claims.OrgID, Role: claims.Role}, nil
}

// validCronSecret compares in constant time. An empty secret never matches.
func validCronSecret(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(cfg AuthConfig, base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch {
			case strings.HasPrefix(req.URL.Path, cronPrefix):
				token, ok := bearerToken(req.Header.Get("Authorization"))
				if !ok || !validCronSecret(token, cfg.CronSecret) {
					logging.FromContext(req.Context(), base).Warn("rejected cron trigger", zap.String("path", req.URL.Path))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized"))
					return
				}
				next.ServeHTTP(w, req)
			case strings.HasPrefix(req.URL.Path, orgsPrefix):
				token, ok := bearerToken(req.Header.Get("Authorization"))
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "authentication required"))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid credentials"))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
			default:
				next.ServeHTTP(w, req)
			}
		})
	}
}

// requireOrg checks that the caller's token belongs to orgID.
func requireOrg(ctx context.Context, orgID string) huma.StatusError {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "authentication required")
	}
	if p.OrgID != orgID {
		return newAPIError(http.StatusForbidden, "forbidden")
	}
	return nil
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
