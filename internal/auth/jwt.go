package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and validates the access tokens presented on the websocket
// handshake and on gRPC calls. Tokens are issued by the account service; the
// signing side is kept here for tooling and tests.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret
	activeKID string            // kid used when signing; "" means the single-secret mode
	duration  time.Duration
}

// Claims is the custom JWT payload.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKey   = errors.New("unknown signing key")
)

// NewJWTManager returns a manager using a single shared secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKID and
// verifies tokens signed with any of the supplied keys, so keys can be rotated
// without invalidating tokens that are still in flight.
func NewJWTManagerFromKeys(keys map[string]string, activeKID string, duration time.Duration) *JWTManager {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &JWTManager{keys: cp, activeKID: activeKID, duration: duration}
}

// GenerateToken issues a signed token for a user id.
func (m *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKID]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownKey, m.activeKID)
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKID != "" {
		token.Header["kid"] = m.activeKID
	}

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}
