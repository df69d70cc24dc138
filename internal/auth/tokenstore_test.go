package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sstent/stravasync/internal/logger"
	"github.com/sstent/stravasync/internal/strava"
)

func writeCredFile(t *testing.T, cred Credential) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.json")
	data, err := json.Marshal(cred)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestStore(t *testing.T, cred Credential, tokenURL string) *TokenStore {
	t.Helper()
	conf := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return NewTokenStore(writeCredFile(t, cred), conf, logger.Mock())
}

func TestGetValidAccessToken_FreshTokenSkipsRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	now := time.Now()
	store := newTestStore(t, Credential{
		AccessToken:  "fresh-token",
		RefreshToken: "refresh",
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}, srv.URL)
	store.now = func() time.Time { return now }

	token, err := store.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetValidAccessToken_RefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-token","refresh_token":"new-refresh","token_type":"Bearer","expires_in":21600}`)
	}))
	defer srv.Close()

	now := time.Now()
	store := newTestStore(t, Credential{
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		ExpiresAt:    now.Add(-time.Hour).Unix(),
	}, srv.URL)
	store.now = func() time.Time { return now }

	token, err := store.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", token)

	// The refreshed credential must be persisted before returning.
	data, err := os.ReadFile(store.path)
	require.NoError(t, err)
	var cred Credential
	require.NoError(t, json.Unmarshal(data, &cred))
	assert.Equal(t, "new-token", cred.AccessToken)
	assert.Equal(t, "new-refresh", cred.RefreshToken)
	assert.Greater(t, cred.ExpiresAt, now.Unix())
}

func TestGetValidAccessToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold callers in the same flight
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-token","refresh_token":"new-refresh","token_type":"Bearer","expires_in":21600}`)
	}))
	defer srv.Close()

	now := time.Now()
	store := newTestStore(t, Credential{
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		ExpiresAt:    now.Add(-time.Hour).Unix(),
	}, srv.URL)
	store.now = func() time.Time { return now }

	const callers = 10
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := store.GetValidAccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "duplicate simultaneous refreshes can invalidate the refresh token")
	for _, token := range tokens {
		assert.Equal(t, "new-token", token)
	}
}

func TestRefresh_KeepsRefreshTokenWhenProviderOmitsIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-token","token_type":"Bearer","expires_in":21600}`)
	}))
	defer srv.Close()

	now := time.Now()
	store := newTestStore(t, Credential{
		AccessToken:  "stale-token",
		RefreshToken: "keep-me",
		ExpiresAt:    now.Add(-time.Hour).Unix(),
	}, srv.URL)
	store.now = func() time.Time { return now }

	_, err := store.GetValidAccessToken(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(store.path)
	require.NoError(t, err)
	var cred Credential
	require.NoError(t, json.Unmarshal(data, &cred))
	assert.Equal(t, "keep-me", cred.RefreshToken)
}

func TestRefresh_RejectedTokenRequiresReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	now := time.Now()
	store := newTestStore(t, Credential{
		AccessToken:  "stale-token",
		RefreshToken: "revoked",
		ExpiresAt:    now.Add(-time.Hour).Unix(),
	}, srv.URL)
	store.now = func() time.Time { return now }

	_, err := store.GetValidAccessToken(context.Background())
	assert.ErrorIs(t, err, strava.ErrReauthRequired)
}

func TestGetValidAccessToken_MissingCredentialFile(t *testing.T) {
	conf := NewOAuthConfig("client", "secret")
	store := NewTokenStore(filepath.Join(t.TempDir(), "absent.json"), conf, logger.Mock())

	_, err := store.GetValidAccessToken(context.Background())
	assert.ErrorIs(t, err, strava.ErrReauthRequired)
}

func TestSave_AtomicReplace(t *testing.T) {
	store := newTestStore(t, Credential{
		AccessToken:  "old",
		RefreshToken: "old-refresh",
		ExpiresAt:    100,
	}, "http://unused")

	next := Credential{AccessToken: "new", RefreshToken: "new-refresh", ExpiresAt: 200}
	require.NoError(t, store.Save(next))

	data, err := os.ReadFile(store.path)
	require.NoError(t, err)
	var cred Credential
	require.NoError(t, json.Unmarshal(data, &cred))
	assert.Equal(t, next, cred)

	// No temp files left behind in the credential directory.
	entries, err := os.ReadDir(filepath.Dir(store.path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
