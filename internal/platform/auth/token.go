package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims is the payload of a signed bearer token: the account id as subject,
// the tenant the session belongs to, and the standard expiry.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
}

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// ExtractToken pulls the bearer credential from the Authorization header,
// falling back to the "token" query parameter for contexts that cannot set
// headers (inline file and media embeds). Callers of the query-parameter
// path accept that tokens may end up in browser history and URL logs.
func ExtractToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
		return "", ErrInvalidToken
	}
	if token := c.QueryParam("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// SignToken issues an HS256 token for the account.
func SignToken(secret []byte, accountID, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies signature and expiry and returns the claims. Every
// verification failure (bad signature, wrong algorithm, expired) is reported
// as ErrInvalidToken; callers map it to a single 401 response.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
