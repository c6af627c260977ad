package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cfolink/internal/messaging"
)

// Identity is what the auth boundary yields to the messaging core: an
// opaque verified user id and a marketplace role. Credential parsing never
// leaks past this package.
type Identity struct {
	UserID string         `json:"user_id"`
	Role   messaging.Role `json:"role"`
}

// Claims are the JWT claims issued by the marketplace identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService validates bearer tokens issued by the identity service.
type TokenService struct {
	secretKey []byte

	// TokenDuration applies to tokens minted by GenerateToken.
	TokenDuration time.Duration
}

// NewTokenService creates a token service sharing the identity service's
// HMAC secret.
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: 24 * time.Hour,
	}
}

// ValidateToken verifies the signature and expiry and returns the caller's
// identity.
func (ts *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token missing user id")
	}

	role := messaging.Role(claims.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("token carries unknown role %q", claims.Role)
	}

	return &Identity{UserID: claims.UserID, Role: role}, nil
}

// GenerateToken mints a signed token for a user. Token issuance belongs to
// the identity service in production; this exists for local development and
// tests.
func (ts *TokenService) GenerateToken(userID string, role messaging.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.TokenDuration)),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
