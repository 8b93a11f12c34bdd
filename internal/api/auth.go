package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/quiztaker/internal/errors"
)

const userKey = "api.user"

// Claims are the claims of an access token issued by the identity provider.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type User struct {
	ID   string
	Name string
}

// Authenticator verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Sign issues a token for a user. It is used for development and tests; the
// identity provider issues tokens in production.
func (a *Authenticator) Sign(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Verify(token string) (User, error) {
	var claims Claims
	if _, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return User{}, fmt.Errorf("parse token: %w", err)
	}

	if claims.Subject == "" {
		return User{}, fmt.Errorf("token has no subject")
	}

	return User{ID: claims.Subject, Name: claims.Username}, nil
}

// Middleware rejects requests without a valid token. Browsers cannot set
// headers on websocket requests, so the token may also come as a query param.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			writeError(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing access token")))
			return
		}

		u, err := a.Verify(token)
		if err != nil {
			writeError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("invalid access token"),
				errors.WithCause(err),
			))
			return
		}

		c.Set(userKey, u)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Query("token")
}

func userFrom(c *gin.Context) User {
	u, _ := c.Get(userKey)
	user, _ := u.(User)
	return user
}
