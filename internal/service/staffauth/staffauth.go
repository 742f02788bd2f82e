// Package staffauth issues and checks bearer credentials of staff members.
// Staff identities live in the external account store; credentials only carry
// the staff id and the capability flag.
package staffauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
)

const (
	defaultTTL           = 12 * time.Hour
	defaultSigningMethod = "HS256"

	bearerPrefix = "Bearer "
)

type Claims struct {
	jwt.RegisteredClaims
	Staff bool `json:"staff"`
}

type Config struct {
	// Secret key to sign credentials
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Credentials lifetime if caller does not ask for specific one
	TTL time.Duration
}

type Manager struct {
	key []byte
	alg jwt.SigningMethod
	ttl time.Duration

	now func() time.Time
}

func New(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}

	return &Manager{
		key: []byte(cfg.SecretKey),
		alg: alg,
		ttl: cfg.TTL,
		now: time.Now,
	}, nil
}

// Issue signs credentials for the caller
// Zero ttl means configured default
func (m *Manager) Issue(caller models.Caller, ttl time.Duration) (string, time.Time, error) {
	if caller.Anonymous() {
		return "", time.Time{}, errors.New("caller id must not be empty")
	}
	if ttl == 0 {
		ttl = m.ttl
	}

	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Staff: caller.Staff,
	})

	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error while signing credentials. Err: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse validates credentials and returns the caller they were issued for
func (m *Manager) Parse(token string) (models.Caller, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return models.AnonymousCaller, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return models.AnonymousCaller, fmt.Errorf("%w: credentials without subject", apperrors.ErrUnauthorized)
	}

	return models.Caller{ID: claims.Subject, Staff: claims.Staff}, nil
}

// FromRequest authenticates request by its 'Authorization: Bearer ...' header
func (m *Manager) FromRequest(r *http.Request) (models.Caller, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return models.AnonymousCaller, fmt.Errorf("%w: bearer credentials not found", apperrors.ErrUnauthorized)
	}

	return m.Parse(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
}
