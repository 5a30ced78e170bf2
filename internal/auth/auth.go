// Package auth turns a bearer credential into a chat participant.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"supportchat/backend/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authorization token missing")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const issuer = "supportchat-service"

// Identity is what a validated token says about its bearer.
type Identity struct {
	ID      string
	Name    string
	IsAdmin bool
}

// Participant maps the identity onto its chat role.
func (i Identity) Participant() models.Participant {
	role := models.RoleShopper
	if i.IsAdmin {
		role = models.RoleAdmin
	}
	return models.Participant{ID: i.ID, Name: i.Name, Role: role}
}

// Authenticator validates a raw bearer token.
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// JWTAuthenticator validates HS256 tokens carrying sub, name and admin claims.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	id, _ := claims["sub"].(string)
	if id == "" {
		return Identity{}, fmt.Errorf("missing subject: %w", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	admin, _ := claims["admin"].(bool)

	return Identity{ID: id, Name: name, IsAdmin: admin}, nil
}

// IssueToken mints a signed token for the identity. Used by the operator CLI
// and tests.
func (a *JWTAuthenticator) IssueToken(id Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   id.ID,
		"name":  id.Name,
		"admin": id.IsAdmin,
		"iss":   issuer,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}
