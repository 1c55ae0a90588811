package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("access token expired")

// TokenInfo is what the client can read from its bearer token without the
// server's signing key.
type TokenInfo struct {
	Subject   string
	Username  string
	UserID    string
	ExpiresAt time.Time
}

// InspectToken decodes the claims of a JWT access token. The signature is
// not verified; the broker does that on CONNECT.
func InspectToken(token string) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("parse token: %w", err)
	}

	var info TokenInfo
	info.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if v, ok := claims["username"].(string); ok {
		info.Username = v
	}
	switch v := claims["userId"].(type) {
	case string:
		info.UserID = v
	case float64:
		info.UserID = fmt.Sprintf("%.0f", v)
	}
	return info, nil
}

// CheckToken fails fast on a token that has already expired.
func CheckToken(token string, now time.Time) (TokenInfo, error) {
	info, err := InspectToken(token)
	if err != nil {
		return info, err
	}
	if !info.ExpiresAt.IsZero() && !now.Before(info.ExpiresAt) {
		return info, fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return info, nil
}
