package session

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
)

// CookieName is the session cookie both the REST API and the realtime
// endpoint expect.
const CookieName = "session"

// Session is the authenticated identity the messaging core runs under. It is
// owned by the auth collaborator and read-only here; a new login produces a
// new Session and new transport channels.
type Session struct {
	UserID string
	Name   string
	Avatar string
	Role   models.Role
	Token  string
}

type Claims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken builds a Session from a signed token without verifying it. The
// client is not the token's audience verifier; the backend is.
func FromToken(token string) (*Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &Session{
		UserID: claims.Subject,
		Name:   claims.Name,
		Avatar: claims.Avatar,
		Role:   models.Role(claims.Role),
		Token:  token,
	}, nil
}

// ParseAndValidate verifies an HS256 session token. Used by the dev gateway
// to authenticate incoming connections.
func ParseAndValidate(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
