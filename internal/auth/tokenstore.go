package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/sstent/stravasync/internal/strava"
)

// expirySkew refreshes slightly before the provider-reported expiry so a
// token never dies mid-request.
const expirySkew = 60 * time.Second

// Endpoint is Strava's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.strava.com/oauth/authorize",
	TokenURL: "https://www.strava.com/oauth/token",
}

// Credential is the persisted OAuth state, in the shape Strava's token
// endpoint returns it (expires_at in epoch seconds).
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// NewOAuthConfig builds the oauth2 client config for Strava.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     Endpoint,
		Scopes:       []string{"activity:read_all"},
	}
}

// TokenStore owns the credential file. It hands out valid access tokens,
// refreshing and re-persisting the credential when expired. Concurrent
// callers share a single in-flight refresh: firing duplicate simultaneous
// refresh requests can invalidate the refresh token on the provider side.
type TokenStore struct {
	path string
	conf *oauth2.Config
	log  zerolog.Logger

	now        func() time.Time
	httpClient *http.Client

	mu     sync.RWMutex
	cred   Credential
	loaded bool

	refreshGroup singleflight.Group
}

// NewTokenStore creates a token store backed by the credential file at path.
func NewTokenStore(path string, conf *oauth2.Config, log zerolog.Logger) *TokenStore {
	return &TokenStore{
		path: path,
		conf: conf,
		log:  log.With().Str("module", "auth").Logger(),
		now:  time.Now,
	}
}

// GetValidAccessToken returns an access token that is good for at least the
// skew window, refreshing it first if needed.
func (s *TokenStore) GetValidAccessToken(ctx context.Context) (string, error) {
	cred, err := s.current()
	if err != nil {
		return "", err
	}
	if s.valid(cred) {
		return cred.AccessToken, nil
	}

	v, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(Credential).AccessToken, nil
}

func (s *TokenStore) valid(cred Credential) bool {
	return s.now().Add(expirySkew).Unix() < cred.ExpiresAt
}

// refresh exchanges the refresh token for a new access token and persists
// the result before returning it. Runs inside the singleflight group.
func (s *TokenStore) refresh(ctx context.Context) (Credential, error) {
	// A caller queued behind a completed refresh may land here with a
	// token that is already fresh again.
	cred, err := s.current()
	if err != nil {
		return Credential{}, err
	}
	if s.valid(cred) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return Credential{}, fmt.Errorf("credential file %s has no refresh token: %w", s.path, strava.ErrReauthRequired)
	}

	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	s.log.Debug().Msg("access token expired, refreshing")
	tok, err := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return Credential{}, classifyRefreshError(err)
	}

	next := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
	}
	// Providers may omit the refresh token on refresh; never drop the one
	// we have in that case.
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err := s.Save(next); err != nil {
		return Credential{}, err
	}
	s.log.Debug().Time("expires_at", time.Unix(next.ExpiresAt, 0)).Msg("access token refreshed")
	return next, nil
}

// current returns the in-memory credential, loading the file on first use.
func (s *TokenStore) current() (Credential, error) {
	s.mu.RLock()
	if s.loaded {
		cred := s.cred
		s.mu.RUnlock()
		return cred, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cred, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, fmt.Errorf("credential file %s not found: %w", s.path, strava.ErrReauthRequired)
		}
		return Credential{}, fmt.Errorf("read credential file: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("parse credential file %s: %w", s.path, err)
	}
	s.cred = cred
	s.loaded = true
	return cred, nil
}

// Save persists the credential atomically (temp file + rename) so a crash
// mid-write never corrupts the file, and updates the in-memory copy.
func (s *TokenStore) Save(cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}

	s.mu.Lock()
	s.cred = cred
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// classifyRefreshError separates "the refresh token is dead, go log in
// again" from transient transport failures.
func classifyRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("refresh rejected (status %d): %w", rerr.Response.StatusCode, strava.ErrReauthRequired)
		}
	}
	return fmt.Errorf("transient refresh failure: %w", err)
}
