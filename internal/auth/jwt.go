package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify a session. The role is deliberately absent: it is always
// resolved from the stored user.
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// NewSessionToken signs claims without an expiry; the session record is the
// source of truth for validity.
func NewSessionToken(secret, issuer string, now time.Time, claims Claims) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:       claims.SessionID,
		Subject:  claims.UserID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
