package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sphyra/internal/types"
)

// OperatorClaims are the JWT claims carried by studio staff tokens.
type OperatorClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 operator tokens signed with a shared
// secret.
type JWTAuthenticator struct {
	secret []byte
	clock  types.Clock
}

// NewJWTAuthenticator creates a JWTAuthenticator. A nil clock uses wall time.
func NewJWTAuthenticator(secret types.SecretString, clock types.Clock) *JWTAuthenticator {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JWTAuthenticator{secret: []byte(secret.Unmask()), clock: clock}
}

// ResolveOperator parses and verifies token. Tokens signed with any method
// other than HMAC, expired tokens and tokens without a subject are rejected.
func (a *JWTAuthenticator) ResolveOperator(_ context.Context, token string) (types.Operator, error) {
	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return types.Operator{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid or expired operator token", err)
	}
	if claims.Subject == "" {
		return types.Operator{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "operator token has no subject", nil)
	}
	return types.Operator{Subject: claims.Subject, Name: claims.Name}, nil
}

// Sign issues an HS256 token for op valid for ttl.
func (a *JWTAuthenticator) Sign(op types.Operator, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := OperatorClaims{
		Name: op.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireOperator rejects requests without a valid operator bearer token and
// stores the resolved Operator in the context. A Server without an
// Authenticator passes requests through.
func (s *Server) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}

		op, err := s.Authenticator.ResolveOperator(r.Context(), token)
		if err != nil {
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				s.Logger.Error("operator authentication failed", "error", err)
			} else {
				s.Logger.Warn("operator token rejected", "path", r.URL.Path, "reason", appErr.Err)
			}
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid or expired operator token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithOperator(r.Context(), op)))
	})
}

// extractBearerToken returns the token from a "Bearer <token>" header value,
// matching the scheme case-insensitively.
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
