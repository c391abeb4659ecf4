// Package auth resolves the verified user identity of an HTTP request from a
// signed session token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/livechat/internal/chat"
)

const (
	// CookieName is the cookie that may carry the session token.
	CookieName = "livechat_session"

	// QueryParam carries the token on WebSocket upgrades, where browsers cannot
	// set headers.
	QueryParam = "token"

	defaultTTL = 7 * 24 * time.Hour
)

var (
	// ErrNoCredentials means the request carried no token at all.
	ErrNoCredentials = errors.New("no credentials")

	// ErrInvalidToken means a token was present but did not verify.
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator yields the verified identity of a request.
type Authenticator interface {
	CurrentIdentity(r *http.Request) (chat.Identity, error)
}

// JWT verifies HS256 tokens whose subject is the numeric user id.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWT returns a verifier for secret. ttl is the lifetime of issued tokens;
// zero selects one week.
func NewJWT(secret string, ttl time.Duration) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &JWT{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for id.
func (j *JWT) Issue(id chat.Identity) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(int64(id), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify parses token and returns its subject.
func (j *JWT) Verify(token string) (chat.Identity, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return chat.Identity(id), nil
}

// CurrentIdentity looks for a token in the Authorization header, the session
// cookie and the token query parameter, in that order.
func (j *JWT) CurrentIdentity(r *http.Request) (chat.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return 0, ErrNoCredentials
	}
	return j.Verify(token)
}

// TokenFromRequest extracts the raw token from r, or "".
func TokenFromRequest(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryParam))
}

// Anonymous never identifies a request. It is used when no auth secret is
// configured.
type Anonymous struct{}

func (Anonymous) CurrentIdentity(*http.Request) (chat.Identity, error) {
	return 0, ErrNoCredentials
}
