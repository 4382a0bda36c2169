package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)
	p := Principal{ID: uuid.New(), Role: RolePatient, Name: "Asha Rao"}

	var seen Principal
	handler := tm.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		seen = got
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := tm.Issue(p)
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/appointments", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, p, seen)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/appointments", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/appointments", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/appointments", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	handler := tm.Authenticate(RequireRole(RoleHospital)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func(role Role) int {
		token, err := tm.Issue(Principal{ID: uuid.New(), Role: role})
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "/hospitals/x/slots", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, do(RoleHospital))
	require.Equal(t, http.StatusForbidden, do(RolePatient))
}

func TestRequireRoleWithoutAuthenticate(t *testing.T) {
	handler := RequireRole(RolePatient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/appointments", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
