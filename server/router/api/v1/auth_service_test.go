package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadcast/threadcast/server/auth"
)

func signIn(env *testEnv, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/anonymous", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestSignInAnonymously(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{})

	rec := signIn(env, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp anonymousResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PrincipalID)

	principal, err := env.svc.Tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.PrincipalID, principal)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.Equal(t, resp.Token, cookies[0].Value)
	assert.False(t, cookies[0].Secure)

	// A caller that already holds a valid token keeps its principal.
	rec = signIn(env, resp.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var again anonymousResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, resp.PrincipalID, again.PrincipalID)
}

func TestSignInAnonymously_ReplacesInvalidToken(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{})

	rec := signIn(env, "garbage")
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestSignInAnonymously_DistinctPrincipals(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{})

	var first, second anonymousResponse
	require.NoError(t, json.Unmarshal(signIn(env, "").Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(signIn(env, "").Body.Bytes(), &second))
	assert.NotEqual(t, first.PrincipalID, second.PrincipalID)
}
