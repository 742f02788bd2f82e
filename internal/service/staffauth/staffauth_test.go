package staffauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
)

func TestManager_New(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err)

		assert.Equal(t, []byte("secret"), m.key)
		assert.Equal(t, "HS256", m.alg.Alg())
		assert.Equal(t, 12*time.Hour, m.ttl)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err)
	})

	t.Run("unknown alg", func(t *testing.T) {
		_, err := New(Config{SecretKey: "secret", Alg: "HS1024"})
		require.Error(t, err)
	})
}

func TestManager_IssueAndParse(t *testing.T) {
	m, err := New(Config{SecretKey: "test-secret-key"})
	require.NoError(t, err)

	t.Run("roundtrip", func(t *testing.T) {
		token, expiresAt, err := m.Issue(models.Caller{ID: "instructor-1", Staff: true}, time.Hour)
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

		caller, err := m.Parse(token)
		require.NoError(t, err)
		require.Equal(t, models.Caller{ID: "instructor-1", Staff: true}, caller)
	})

	t.Run("non staff caller keeps flag", func(t *testing.T) {
		token, _, err := m.Issue(models.Caller{ID: "student-1"}, 0)
		require.NoError(t, err)

		caller, err := m.Parse(token)
		require.NoError(t, err)
		require.False(t, caller.Staff)
	})

	t.Run("anonymous caller", func(t *testing.T) {
		_, _, err := m.Issue(models.AnonymousCaller, time.Hour)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		past, err := New(Config{SecretKey: "test-secret-key"})
		require.NoError(t, err)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := past.Issue(models.Caller{ID: "instructor-1", Staff: true}, time.Hour)
		require.NoError(t, err)

		_, err = m.Parse(token)
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := New(Config{SecretKey: "other-key"})
		require.NoError(t, err)
		token, _, err := other.Issue(models.Caller{ID: "instructor-1", Staff: true}, time.Hour)
		require.NoError(t, err)

		_, err = m.Parse(token)
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Parse("not-a-jwt")
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})
}

func TestManager_FromRequest(t *testing.T) {
	m, err := New(Config{SecretKey: "test-secret-key"})
	require.NoError(t, err)
	token, _, err := m.Issue(models.Caller{ID: "instructor-1", Staff: true}, time.Hour)
	require.NoError(t, err)

	t.Run("bearer ok", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		caller, err := m.FromRequest(r)

		require.NoError(t, err)
		require.Equal(t, "instructor-1", caller.ID)
	})

	t.Run("no header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)

		_, err := m.FromRequest(r)

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("other scheme", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic "+token)

		_, err := m.FromRequest(r)

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})
}
