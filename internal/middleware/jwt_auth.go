package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/authz"
	"github.com/threatwatch/threatwatch/internal/services"
	"go.uber.org/zap"
)

// TokenType distinguishes short-lived access tokens from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// ErrWrongTokenType is returned when a refresh token is presented as an
// access token or vice versa.
var ErrWrongTokenType = errors.New("wrong token type")

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	Username  string    `json:"username"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string

	// AccessTTL is the lifetime of access tokens
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh tokens
	RefreshTTL time.Duration
}

// TokenPair is what a successful login or refresh hands back
type TokenPair struct {
	Access    string
	Refresh   string
	ExpiresIn time.Duration
}

// IdentityLoader resolves the username in a token to the current account
// state, so role changes apply without waiting for the token to expire.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, username string) (*authz.Identity, error)
}

// JWTAuthMiddleware resolves bearer tokens to identities. It never rejects
// anonymous requests; that decision belongs to the authorization policy.
type JWTAuthMiddleware struct {
	config *JWTAuthConfig
	loader IdentityLoader
	log    *zap.Logger
	now    func() time.Time
}

type identityContextKey struct{}

const issuer = "threatwatch"

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config *JWTAuthConfig, loader IdentityLoader, log *zap.Logger) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{
		config: config,
		loader: loader,
		log:    log.Named("auth"),
		now:    time.Now,
	}
}

// GenerateTokenPair issues a fresh access and refresh token for a user
func (m *JWTAuthMiddleware) GenerateTokenPair(username string) (*TokenPair, error) {
	accessTTL, refreshTTL := m.config.AccessTTL, m.config.RefreshTTL
	access, err := m.sign(username, TokenTypeAccess, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(username, TokenTypeRefresh, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh, ExpiresIn: accessTTL}, nil
}

// Refresh validates a refresh token and rotates it: the caller gets a new
// access token and a new refresh token.
func (m *JWTAuthMiddleware) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := m.ValidateToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return m.GenerateTokenPair(claims.Username)
}

func (m *JWTAuthMiddleware) sign(username string, typ TokenType, ttl time.Duration) (string, error) {
	now := m.now()
	claims := UserClaims{
		Username:  username,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token of the expected type and returns the claims
func (m *JWTAuthMiddleware) ValidateToken(tokenString string, expected TokenType) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.TokenType != expected {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Wrap attaches the caller's identity to the request context when a valid
// access token is present. Requests without a token pass through anonymous;
// a token that is present but invalid is rejected with 401.
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.ValidateToken(tokenString, TokenTypeAccess)
		if err != nil {
			LoggerFor(r.Context(), m.log).Debug("Rejected token",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			api.RespondUnauthenticated(w, "Token is invalid or expired")
			return
		}

		identity, err := m.loader.LoadIdentity(r.Context(), claims.Username)
		if err != nil {
			if kind, ok := services.KindOf(err); ok && kind == services.KindNotFound {
				api.RespondUnauthenticated(w, "User not found")
				return
			}
			LoggerFor(r.Context(), m.log).Error("Failed to load identity", zap.String("username", claims.Username), zap.Error(err))
			api.RespondInternalError(w)
			return
		}

		noteIdentity(r.Context(), identity.Username)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// extractToken reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so upgrades may pass it as access_token instead.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// WithIdentity returns a context carrying the identity
func WithIdentity(ctx context.Context, id *authz.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the authenticated identity, or nil for anonymous callers
func IdentityFromContext(ctx context.Context) *authz.Identity {
	if id, ok := ctx.Value(identityContextKey{}).(*authz.Identity); ok {
		return id
	}
	return nil
}
