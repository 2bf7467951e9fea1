// Package auth implements the OAuth 2.1 flows used to reach protected
// tool servers: endpoint discovery, dynamic client registration, the
// PKCE authorization code flow with a loopback redirect, and the device
// authorization grant. Tokens persist across restarts so an authorized
// server reconnects without another prompt.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"

	"recap/internal/logging"
	"recap/internal/mcp"
)

// defaultScopes are requested when neither configuration nor discovery
// names any.
var defaultScopes = []string{"mcp:tools"}

// Options configures the Authenticator. All fields are optional.
type Options struct {
	// ClientID and ClientSecret are statically configured credentials.
	// When set they take priority over cached or registered clients.
	ClientID     string
	ClientSecret string

	// Scopes overrides the scopes discovered from server metadata.
	Scopes []string

	// RedirectPort fixes the loopback callback port; 0 picks one.
	RedirectPort int

	// PreferDevice forces the device authorization grant even when the
	// server supports the browser flow. For headless machines.
	PreferDevice bool

	// Prompt receives user-facing authorization instructions. Defaults
	// to stderr.
	Prompt io.Writer
}

// Authenticator obtains and serves OAuth credentials for tool servers.
// It implements the connection layer's Authorizer.
type Authenticator struct {
	store        TokenStore
	clientID     string
	clientSecret string
	scopes       []string
	redirectPort int
	preferDevice bool
	promptW      io.Writer
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(store TokenStore, opts Options) *Authenticator {
	promptW := opts.Prompt
	if promptW == nil {
		promptW = os.Stderr
	}
	return &Authenticator{
		store:        store,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		scopes:       opts.Scopes,
		redirectPort: opts.RedirectPort,
		preferDevice: opts.PreferDevice,
		promptW:      promptW,
	}
}

// HTTPClient returns a client that attaches cached tokens for the server
// and silently refreshes expired ones. Servers with no cached credentials
// get passthrough requests; their 401 surfaces to the connect path, which
// calls Authorize.
func (a *Authenticator) HTTPClient(ctx context.Context, cfg mcp.ServerConfig) (*http.Client, error) {
	return &http.Client{Transport: newRefreshRoundTripper(a.store, cfg.URL)}, nil
}

// Authorize runs the interactive authorization flow for a server that
// rejected the handshake, then persists the resulting token. challenge
// carries the WWW-Authenticate header from the rejection when present.
func (a *Authenticator) Authorize(ctx context.Context, cfg mcp.ServerConfig, challenge string) error {
	serverURL := cfg.URL
	if serverURL == "" {
		return fmt.Errorf("server %s has no URL to authorize against", cfg.Name)
	}

	// The handshake already failed with cached credentials attached, so
	// whatever is stored is dead weight.
	if err := a.store.ClearToken(serverURL); err != nil {
		logging.Warn("failed to clear stale token", "server", cfg.Name, "error", err)
	}

	eps, err := discover(ctx, serverURL, challenge)
	if err != nil {
		return err
	}

	scopes := a.scopes
	if len(scopes) == 0 {
		scopes = eps.Scopes
	}
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	creds, err := a.clientCredentials(ctx, serverURL, eps, scopes)
	if err != nil {
		return err
	}

	token, err := a.runFlow(ctx, serverURL, eps, creds, scopes)
	if err != nil {
		return err
	}

	if err := a.store.SaveToken(serverURL, token, scopes); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	logging.Info("authorization complete", "server", cfg.Name)
	return nil
}

func (a *Authenticator) runFlow(ctx context.Context, serverURL string, eps *endpoints, creds *ClientCredentials, scopes []string) (*oauth2.Token, error) {
	useDevice := a.preferDevice || eps.AuthURL == ""

	if !useDevice {
		token, err := a.authCodeFlow(ctx, serverURL, eps, creds, scopes)
		if err == nil {
			return token, nil
		}
		if eps.DeviceAuthURL == "" {
			return nil, err
		}
		logging.Warn("browser authorization failed, trying device flow", "error", err)
	}

	if eps.DeviceAuthURL == "" {
		return nil, fmt.Errorf("server offers no supported authorization flow")
	}
	return a.deviceFlow(ctx, serverURL, eps, creds, scopes)
}

// clientCredentials resolves the OAuth client to authenticate as:
// statically configured, previously cached, or freshly registered.
func (a *Authenticator) clientCredentials(ctx context.Context, serverURL string, eps *endpoints, scopes []string) (*ClientCredentials, error) {
	if a.clientID != "" {
		creds := &ClientCredentials{
			ClientID:     a.clientID,
			ClientSecret: a.clientSecret,
			TokenURL:     eps.TokenURL,
		}
		if err := a.store.SaveClient(serverURL, creds); err != nil {
			logging.Warn("failed to cache client credentials", "error", err)
		}
		return creds, nil
	}

	cached, err := a.store.LoadClient(serverURL)
	if err != nil {
		logging.Warn("failed to load cached client", "server", serverURL, "error", err)
	}
	if cached != nil && cached.ClientID != "" {
		if cached.TokenURL == "" {
			cached.TokenURL = eps.TokenURL
		}
		return cached, nil
	}

	if eps.RegistrationURL == "" {
		return nil, fmt.Errorf("no client credentials configured and server does not support dynamic registration")
	}

	a.prompt("Registering client with authorization server...\n")
	creds, err := registerClient(ctx, eps.RegistrationURL, serverURL, scopes)
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration failed: %w", err)
	}
	creds.TokenURL = eps.TokenURL

	if err := a.store.SaveClient(serverURL, creds); err != nil {
		logging.Warn("failed to cache registered client", "error", err)
	}
	return creds, nil
}

// Clear removes stored credentials for a server URL.
func (a *Authenticator) Clear(serverURL string) error {
	return a.store.ClearToken(serverURL)
}

// HasToken reports whether a token is cached for a server URL.
func (a *Authenticator) HasToken(serverURL string) bool {
	token, err := a.store.LoadToken(serverURL)
	return err == nil && token != nil
}

func (a *Authenticator) prompt(format string, args ...any) {
	fmt.Fprintf(a.promptW, format, args...)
}
