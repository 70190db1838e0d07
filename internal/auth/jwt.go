package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// JWTManager issues and checks HS256 access tokens for one shared secret.
type JWTManager struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{key: []byte(secret), issuer: DefaultIssuer, now: time.Now}
}

// GenerateToken issues a token for subject that expires after ttl.
func (j *JWTManager) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	issued := jwt.NewNumericDate(j.now())
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.issuer,
			Subject:   subject,
			IssuedAt:  issued,
			NotBefore: issued,
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken checks signature, issuer and validity window. Every
// failure wraps ErrInvalidToken.
func (j *JWTManager) ValidateAccessToken(raw string) (*UserContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return j.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &UserContext{Subject: claims.Subject, Scopes: claims.Scopes}, nil
}

// ExtractBearerToken returns the credential of an "Authorization: Bearer"
// header. The scheme is case-insensitive.
func ExtractBearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
