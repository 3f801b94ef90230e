package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrBadPassword rejects a login with a wrong or unset admin password.
var ErrBadPassword = errors.New("invalid admin password")

// Claims is the admin session JWT payload. The session id keys the pending
// deletion set; the set dies with the session.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Gate is the admin access gate: a password prompt that issues a signed
// session token valid for the configured TTL.
type Gate struct {
	password   string
	issuer     string
	signingKey string
	ttl        time.Duration
}

// NewGate creates a gate. An empty password disables admin access entirely.
func NewGate(password, issuer, signingKey string, ttl time.Duration) *Gate {
	return &Gate{password: password, issuer: issuer, signingKey: signingKey, ttl: ttl}
}

// Login checks the password and issues a fresh session token.
func (g *Gate) Login(password string) (token string, expiresAt time.Time, err error) {
	if g.password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) != 1 {
		return "", time.Time{}, ErrBadPassword
	}

	expiresAt = time.Now().Add(g.ttl)
	claims := Claims{
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.signingKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse validates a session token and returns its claims.
func (g *Gate) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(g.signingKey), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if g.issuer != "" && claims.Issuer != g.issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// Middleware enforces a bearer session token and stores the session id on
// the gin context under "session_id".
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := g.Parse(strings.TrimSpace(authz[len("bearer "):]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("session_id", claims.SessionID)
		c.Next()
	}
}
