package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// ErrTokenInvalid is returned for any token that fails parsing,
// signature, or time-bound checks.
var ErrTokenInvalid = errors.New("invalid access token")

// Config holds signing configuration.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager creates and verifies access tokens.
type Manager struct {
	config Config
}

// AccessClaims is the claim set carried by authcore access tokens.
type AccessClaims struct {
	UID      string `json:"uid"`
	Username string `json:"uname,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates the config and key material.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 public key size")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess mints a signed access token for the identity, expiring
// with the session.
func (m *Manager) CreateAccess(userID, username string, now time.Time) (string, error) {
	claims := AccessClaims{
		UID:      userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}

	switch m.config.SigningMethod {
	case MethodHS256:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return token.SignedString(m.config.PrivateKey)
	case MethodEd25519:
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		return token.SignedString(ed25519.PrivateKey(m.config.PrivateKey))
	default:
		return "", errors.New("unsupported signing method")
	}
}

// Verify parses and validates an access token, pinning the algorithm.
func (m *Manager) Verify(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	options := []jwt.ParserOption{
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	switch m.config.SigningMethod {
	case MethodHS256:
		options = append(options, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	case MethodEd25519:
		options = append(options, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc, options...)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

func (m *Manager) keyFunc(*jwt.Token) (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	case MethodEd25519:
		return ed25519.PublicKey(m.config.PublicKey), nil
	default:
		return nil, errors.New("unsupported signing method")
	}
}
