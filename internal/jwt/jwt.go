package jwt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the wallet owner a bearer token was issued to.
type Claims struct {
	OwnerID uuid.UUID `json:"owner_id"`
	jwt.RegisteredClaims
}

// JWT provides methods to generate and validate JWT tokens.
type JWT struct {
	secretKey string        // Secret key for signing tokens
	exp       time.Duration // Token expiration duration
	issuer    string
}

// Option configures a JWT.
type Option func(*JWT)

// WithSecretKey sets the HMAC signing key.
func WithSecretKey(key string) Option {
	return func(j *JWT) { j.secretKey = key }
}

// WithExpiration sets the lifetime of generated tokens.
func WithExpiration(d time.Duration) Option {
	return func(j *JWT) { j.exp = d }
}

// WithIssuer sets the iss claim of generated tokens.
func WithIssuer(iss string) Option {
	return func(j *JWT) { j.issuer = iss }
}

// New creates a new JWT instance
func New(opts ...Option) *JWT {
	j := &JWT{exp: time.Hour, issuer: "gw-bill-payments"}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Generate creates a token for ownerID.
func (j *JWT) Generate(ctx context.Context, ownerID uuid.UUID) (string, error) {
	now := time.Now()
	claims := Claims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   ownerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.exp)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// GetClaims parses and validates tokenString.
func (j *JWT) GetClaims(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(j.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OwnerID == uuid.Nil {
		return nil, errors.New("owner_id not found in token")
	}
	return claims, nil
}

// GetTokenFromRequest extracts the token string from the Authorization header
func (j *JWT) GetTokenFromRequest(ctx context.Context, r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}

type ownerKey struct{}

// WithOwner stores the authenticated owner in ctx.
func WithOwner(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the owner stored by WithOwner.
func OwnerFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ownerKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
