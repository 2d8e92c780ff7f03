// Package jwt signs and verifies the stateless access tokens issued by the
// engine. Tokens are HS256-signed and carry the user's id, email, and role
// names; validity is determined purely by signature and expiry.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config configures access-token signing and verification.
type Config struct {
	Secret    []byte
	AccessTTL time.Duration
	Issuer    string
	Leeway    time.Duration
}

// Manager issues and parses access tokens. Safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the signed payload of an access token.
type AccessClaims struct {
	UserID string   `json:"uid"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a secret")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// Issue signs a new access token for the given principal.
func (m *Manager) Issue(userID, email string, roles []string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID,
		Email:  email,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

// Parse verifies signature and expiry and returns the claims.
func (m *Manager) Parse(tokenStr string) (*AccessClaims, error) {
	return m.parse(tokenStr, false)
}

// ParseIgnoringExpiry verifies the signature only. The refresh flow uses it
// to bind a rotation request to the session that issued the (possibly
// expired) access token.
func (m *Manager) ParseIgnoringExpiry(tokenStr string) (*AccessClaims, error) {
	return m.parse(tokenStr, true)
}

func (m *Manager) parse(tokenStr string, ignoreExpiry bool) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" && !ignoreExpiry {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if ignoreExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || (!ignoreExpiry && !token.Valid) {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
