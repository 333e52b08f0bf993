// Package auth verifies the bearer credential a client presents on the
// websocket upgrade and on every HTTP request. Credentials are minted
// elsewhere; GenerateToken exists for tooling and tests.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
)

const issuer = "circlecast"

// Identity is who a verified credential belongs to. The display fields feed
// presence so joining a room needs no user lookup.
type Identity struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url"`
}

// Name is what other members see: the display name, else the username.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}

// Claims is the payload inside every token.
type Claims struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns an opaque credential into an Identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// GenerateToken signs an HS256 token for id that expires after ttl.
func GenerateToken(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:      id.UserID,
		Username:    id.Username,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature, expiry and signing method and returns the
// claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			// reject "none" and asymmetric algorithms before checking the
			// signature
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify returns apperr.ErrMissingCredential for an empty token and
// apperr.ErrInvalidCredential for anything that does not verify.
func (v *JWTVerifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.ErrMissingCredential
	}
	claims, err := ParseToken(token, v.secret)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnauthenticated, "invalid or expired credential", err)
	}
	return &Identity{
		UserID:      claims.UserID,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		PhotoURL:    claims.PhotoURL,
	}, nil
}
