package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/server/errkind"
)

const (
	// CookieName is the cookie carrying the credential.
	CookieName = "jwt"
	// TokenDuration is the validity window of an issued token. Expiry is the
	// only way a token stops working; there is no revocation list.
	TokenDuration = 30 * 24 * time.Hour
)

// TokenService issues and verifies HS256 tokens binding a principal id to
// an issue time.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for issuing and verifying tokens.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue returns a signed token for principalID valid for TokenDuration.
func (s *TokenService) Issue(principalID string) (string, error) {
	if principalID == "" {
		return "", errors.New("principal id is empty")
	}
	now := s.now()
	claims := &jwt.RegisteredClaims{
		Subject:   principalID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenDuration)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Verify returns the principal id bound to token. Every failure is reported
// as errkind.Unauthenticated.
func (s *TokenService) Verify(token string) (string, error) {
	if token == "" {
		return "", errkind.New(errkind.Unauthenticated, "Authentication required")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		slog.Debug("jwt verification failed", slog.String("error", err.Error()))
		return "", errkind.Wrap(errkind.Unauthenticated, err, "Invalid authentication token")
	}
	if claims.Subject == "" {
		return "", errkind.New(errkind.Unauthenticated, "User ID not found in token")
	}
	return claims.Subject, nil
}

// ExtractToken reads the credential from the jwt cookie, falling back to an
// "Authorization: Bearer" header.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// NewCookie builds the cookie that carries token to the browser. It is not
// HttpOnly because the sync client reads it to authenticate its own connection.
func NewCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(TokenDuration / time.Second),
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
