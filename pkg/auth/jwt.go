// Package auth verifies the HS256 tokens issued to gateway callers and
// extracts the claims the pipeline relies on.
package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials are the verified claims attached to a request.
type Credentials struct {
	EntityID  string
	UserID    string
	RawClaims jwt.MapClaims
}

// ParseCredentials parses and verifies a JWT signed with the shared gateway
// key. Only HS256 is accepted.
func ParseCredentials(tokenStr, secret string) (*Credentials, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return &Credentials{
		EntityID:  claimString(claims["entity_id"]),
		UserID:    claimString(claims["user_id"]),
		RawClaims: claims,
	}, nil
}

// Sign builds an HS256 token from the given claims. Used by internal tooling
// and tests to mint caller tokens.
func Sign(secret string, claims map[string]interface{}) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims))
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// claimString renders a claim value as a string. Numeric identifiers are
// accepted; zero and empty values collapse to "".
func claimString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatInt(int64(t), 10)
	case int64:
		if t == 0 {
			return ""
		}
		return strconv.FormatInt(t, 10)
	case jwt.NumericDate:
		return strconv.FormatInt(t.Unix(), 10)
	default:
		return ""
	}
}
