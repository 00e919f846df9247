package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(GenerateSecureSecret(), time.Hour)
	require.NoError(t, err)
	return tm
}

// TestGenerateJWT тестирует создание JWT токена
func TestGenerateJWT(t *testing.T) {
	tm := newTestManager(t)
	token, err := tm.GenerateJWT(&User{ID: 1, Username: "operator"})
	require.NoError(t, err)

	// Проверяем, что токен содержит точки (разделители частей JWT)
	assert.Equal(t, 2, strings.Count(token, "."), "неверный формат JWT токена: %s", token)
}

// TestValidateJWT тестирует валидацию JWT токена
func TestValidateJWT(t *testing.T) {
	tm := newTestManager(t)
	token, err := tm.GenerateJWT(&User{ID: 42, Username: "validuser", IsAdmin: true})
	require.NoError(t, err)

	claims, err := tm.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.UserID)
	assert.Equal(t, "validuser", claims.Username)
	assert.True(t, claims.IsAdmin)
}

func TestValidateInvalidJWT(t *testing.T) {
	tm := newTestManager(t)
	other := newTestManager(t)

	foreign, err := other.GenerateJWT(&User{ID: 1, Username: "x"})
	require.NoError(t, err)

	for _, token := range []string{"", "invalid.token.here", "not-a-jwt", foreign} {
		_, err := tm.ValidateJWT(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestExpiredJWT(t *testing.T) {
	tm := newTestManager(t)
	issued := time.Now()
	tm.now = func() time.Time { return issued }

	token, err := tm.GenerateJWT(&User{ID: 7, Username: "late"})
	require.NoError(t, err)

	tm.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = tm.ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectsNoneAlgorithm(t *testing.T) {
	tm := newTestManager(t)
	claims := &Claims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tm.ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManagerSecret(t *testing.T) {
	_, err := NewTokenManager("not base64!", time.Hour)
	assert.Error(t, err)

	_, err = NewTokenManager(base64.StdEncoding.EncodeToString([]byte("short")), time.Hour)
	assert.Error(t, err)

	tm, err := NewTokenManager("", 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, tm.TTL())
}

func TestGenerateSecureSecret(t *testing.T) {
	a, b := GenerateSecureSecret(), GenerateSecureSecret()
	assert.NotEqual(t, a, b)

	decoded, err := base64.StdEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestMemoryUserRepo(t *testing.T) {
	repo := NewMemoryUserRepo()
	require.NoError(t, repo.SeedAdmin("Admin", "s3cret"))
	require.NoError(t, repo.SeedAdmin("admin", "other"), "повторный seed не ошибка")
	require.NoError(t, repo.SeedAdmin("nobody", ""))

	_, err := repo.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err := repo.ValidateCredentials("ADMIN", "s3cret")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin)
	assert.False(t, user.LastLogin.IsZero())

	byID, err := repo.GetUserByID(user.ID)
	require.NoError(t, err)
	assert.Same(t, user, byID)

	_, err = repo.ValidateCredentials("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = repo.ValidateCredentials("ghost", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = repo.CreateUser("admin", "hash", false)
	assert.ErrorIs(t, err, ErrUserExists)
	_, err = repo.GetUserByID(999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
