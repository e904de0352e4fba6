package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWT("secret")

	token, err := svc.Sign(42, RoleModerator)
	require.NoError(t, err)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, RoleModerator, id.Role)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWT("secret").Sign(42, RoleUser)
	require.NoError(t, err)

	_, err = NewJWT("other").Verify(token)
	require.Error(t, err)
}

func requireRoleProbe(t *testing.T, svc *JWT, min Role, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	var sawIdentity bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawIdentity = IdentityFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	RequireRole(svc, min)(next).ServeHTTP(rec, req)
	return rec, sawIdentity
}

func TestRequireRoleNoToken(t *testing.T) {
	rec, saw := requireRoleProbe(t, NewJWT("secret"), RoleUser, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, saw)
}

func TestRequireRoleGarbageToken(t *testing.T) {
	rec, saw := requireRoleProbe(t, NewJWT("secret"), RoleUser, "Bearer nonsense")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, saw)
}

func TestRequireRoleInsufficientRole(t *testing.T) {
	svc := NewJWT("secret")
	token, err := svc.Sign(7, RoleUser)
	require.NoError(t, err)

	rec, saw := requireRoleProbe(t, svc, RoleModerator, "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, saw)
}

func TestRequireRolePasses(t *testing.T) {
	svc := NewJWT("secret")
	token, err := svc.Sign(7, RoleDeveloper)
	require.NoError(t, err)

	rec, saw := requireRoleProbe(t, svc, RoleModerator, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, saw)
}
