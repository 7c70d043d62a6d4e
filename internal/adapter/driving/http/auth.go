package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Claims are the JWT claims accepted on the relay websocket.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Identity is who a relay connection belongs to.
type Identity struct {
	UserID domain.UserID
	Name   string
	Avatar string
}

// Authenticator resolves the identity of a websocket request. With a secret
// it requires a bearer token; without one it trusts the user_id query.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

func (a *Authenticator) Identify(r *http.Request) (Identity, error) {
	if a.secret == nil {
		q := r.URL.Query()
		id := strings.TrimSpace(q.Get("user_id"))
		if id == "" {
			return Identity{}, fmt.Errorf("%w: user_id is required", ErrUnauthorized)
		}
		return Identity{UserID: domain.UserID(id), Name: q.Get("name"), Avatar: q.Get("avatar")}, nil
	}

	tokenString, err := bearerToken(r)
	if err != nil {
		return Identity{}, err
	}
	claims, err := a.Parse(tokenString)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: domain.UserID(claims.UserID), Name: claims.Name, Avatar: claims.Avatar}, nil
}

func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", fmt.Errorf("%w: invalid authorization header format", ErrUnauthorized)
		}
		return parts[1], nil
	}
	// Browsers cannot set headers on a websocket upgrade.
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("%w: authorization header required", ErrUnauthorized)
}

func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	return claims, nil
}

// Sign issues a token for userID. Used by tools and tests.
func (a *Authenticator) Sign(claims Claims) (string, error) {
	if a.secret == nil {
		return "", errors.New("no signing secret configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
