package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// callbackAddr is where Strava redirects after authorization. The port is
// part of the app's registered redirect URI, so it is not configurable.
const callbackAddr = ":8080"

// Authorize runs the interactive authorization-code flow: prints the
// authorization URL, waits for the browser redirect on localhost:8080 and
// exchanges the code for a token. Returns the credential to persist.
func Authorize(ctx context.Context, conf *oauth2.Config, out io.Writer) (*Credential, error) {
	conf.RedirectURL = "http://localhost:8080/"

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	url := conf.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))
	fmt.Fprintf(out, "Please visit %s\n", url)

	code, err := waitForCallback(ctx, state)
	if err != nil {
		return nil, err
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
	}
	if cred.RefreshToken == "" {
		return nil, errors.New("token response contained no refresh token")
	}
	return cred, nil
}

// waitForCallback serves a single OAuth redirect request and returns the
// authorization code it carried.
func waitForCallback(ctx context.Context, state string) (string, error) {
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			results <- result{err: fmt.Errorf("authorization denied: %s", q.Get("error"))}
		case q.Get("state") != state:
			results <- result{err: errors.New("authorization response state mismatch")}
		case q.Get("code") == "":
			results <- result{err: errors.New("authorization response missing code")}
		default:
			results <- result{code: q.Get("code")}
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "Authorization received, you can close this window.")
	})

	ln, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return "", fmt.Errorf("listen for OAuth callback: %w", err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		return res.code, res.err
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
