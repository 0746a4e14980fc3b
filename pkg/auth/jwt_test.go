package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	issuer := NewIssuer("secret")
	token, err := issuer.GenerateToken("user-1")
	require.NoError(t, err)

	claims, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	token, err := NewIssuer("secret").GenerateToken("user-1")
	require.NoError(t, err)

	_, err = NewIssuer("other").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret")
	issuer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, err := issuer.GenerateToken("user-1")
	require.NoError(t, err)

	_, err = NewIssuer("secret").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	token, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	token, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	_, err = TokenFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestRequireAuth(t *testing.T) {
	issuer := NewIssuer("secret")
	var seen string
	h := issuer.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := issuer.GenerateToken("user-7")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", seen)
}
