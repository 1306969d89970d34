package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingUserID = errors.New("invalid user ID in token")
)

// UserIDClaim is the claim carrying the authenticated user.
const UserIDClaim = "user_id"

// JWTAuthenticator verifies HS256 tokens issued by the platform's identity
// service and resolves them to a user id.
type JWTAuthenticator struct {
	jwtSecret []byte
	jwtExpire time.Duration
	now       func() time.Time
}

func NewJWTAuthenticator(secret string, expire time.Duration) *JWTAuthenticator {
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	return &JWTAuthenticator{
		jwtSecret: []byte(secret),
		jwtExpire: expire,
		now:       time.Now,
	}
}

// Verify parses tokenString and returns its user id. The user_id claim may be
// a string or a number.
func (a *JWTAuthenticator) Verify(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	switch v := claims[UserIDClaim].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", ErrMissingUserID
}

// Issue signs a token for userID. Used by tooling and tests; production
// tokens come from the identity service.
func (a *JWTAuthenticator) Issue(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		UserIDClaim: userID,
		"iat":       a.now().Unix(),
		"exp":       a.now().Add(a.jwtExpire).Unix(),
	})
	return token.SignedString(a.jwtSecret)
}
