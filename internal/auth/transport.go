package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"recap/internal/logging"
)

// refreshRoundTripper attaches cached Bearer tokens to outgoing requests
// and refreshes them when the server rejects one. It never runs an
// interactive flow: a request without usable credentials passes through
// unauthenticated so the rejection can surface to the connect path.
type refreshRoundTripper struct {
	base      http.RoundTripper
	store     TokenStore
	serverURL string

	mu     sync.Mutex
	token  *oauth2.Token
	creds  *ClientCredentials
	loaded bool
}

func newRefreshRoundTripper(store TokenStore, serverURL string) *refreshRoundTripper {
	return &refreshRoundTripper{
		base:      http.DefaultTransport,
		store:     store,
		serverURL: serverURL,
	}
}

// RoundTrip sends the request with a Bearer token when one is cached. A
// 401 response triggers one refresh attempt and one retry; if either
// fails the original rejection is returned.
func (rt *refreshRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token := rt.currentToken()
	if token == nil {
		return rt.base.RoundTrip(req)
	}

	// A zero expiry means the token does not expire.
	if !token.Expiry.IsZero() && token.Expiry.Before(time.Now().Add(30*time.Second)) && token.RefreshToken != "" {
		if refreshed, err := rt.refresh(req.Context(), token); err == nil {
			token = refreshed
		} else {
			logging.Debug("token refresh failed", "server", rt.serverURL, "error", err)
		}
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := rt.base.RoundTrip(authed)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	refreshed, refreshErr := rt.refresh(req.Context(), token)
	if refreshErr != nil {
		logging.Debug("token refresh after rejection failed", "server", rt.serverURL, "error", refreshErr)
		rt.invalidate()
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retried := req.Clone(req.Context())
	retried.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)
	return rt.base.RoundTrip(retried)
}

// currentToken returns the cached token, loading it from the store on
// first use. nil means no credentials exist for the server.
func (rt *refreshRoundTripper) currentToken() *oauth2.Token {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.loaded {
		rt.loaded = true
		token, err := rt.store.LoadToken(rt.serverURL)
		if err != nil {
			logging.Warn("failed to load cached token", "server", rt.serverURL, "error", err)
		}
		rt.token = token

		creds, err := rt.store.LoadClient(rt.serverURL)
		if err != nil {
			logging.Warn("failed to load client credentials", "server", rt.serverURL, "error", err)
		}
		rt.creds = creds
	}
	return rt.token
}

func (rt *refreshRoundTripper) invalidate() {
	rt.mu.Lock()
	rt.token = nil
	rt.loaded = false
	rt.mu.Unlock()
}

// refresh exchanges the refresh token for a new access token and persists
// the result.
func (rt *refreshRoundTripper) refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token")
	}

	rt.mu.Lock()
	creds := rt.creds
	rt.mu.Unlock()
	if creds == nil || creds.TokenURL == "" {
		return nil, fmt.Errorf("no client credentials for refresh")
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: creds.TokenURL},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: &resourceParamTransport{base: http.DefaultTransport, resource: rt.serverURL},
	})

	expired := *token
	expired.Expiry = time.Now().Add(-time.Minute)
	refreshed, err := cfg.TokenSource(ctx, &expired).Token()
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	rt.token = refreshed
	rt.mu.Unlock()

	if err := rt.store.SaveToken(rt.serverURL, refreshed, nil); err != nil {
		logging.Warn("failed to persist refreshed token", "server", rt.serverURL, "error", err)
	}
	return refreshed, nil
}

// resourceParamTransport adds the RFC 8707 resource parameter to token
// endpoint requests.
type resourceParamTransport struct {
	base     http.RoundTripper
	resource string
}

func (t *resourceParamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.resource == "" || req.Method != http.MethodPost || !strings.Contains(req.URL.Path, "token") || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}

	body := string(raw)
	if values, err := url.ParseQuery(body); err == nil {
		values.Set("resource", t.resource)
		body = values.Encode()
	}

	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(strings.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	return t.base.RoundTrip(clone)
}
