package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"recap/internal/logging"
)

// protectedResourceMetadata is RFC 9728 protected resource metadata.
type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported,omitempty"`
}

// serverMetadata is RFC 8414 authorization server metadata.
type serverMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint   string   `json:"device_authorization_endpoint,omitempty"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// endpoints holds everything discovery learned about a server's
// authorization setup.
type endpoints struct {
	AuthURL         string
	TokenURL        string
	DeviceAuthURL   string
	RegistrationURL string
	Scopes          []string
}

// discover resolves the OAuth endpoints for a protected server. The
// challenge is the WWW-Authenticate header from the 401 rejection; when it
// names a metadata URL that takes priority, otherwise the server's own
// well-known location is probed.
func discover(ctx context.Context, serverURL, challenge string) (*endpoints, error) {
	if metadataURL := metadataURLFromChallenge(challenge); metadataURL != "" {
		eps, err := discoverFromResourceMetadata(ctx, metadataURL)
		if err == nil {
			return eps, nil
		}
		logging.Debug("challenge-directed discovery failed, falling back to well-known",
			"url", metadataURL, "error", err)
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)

	if eps, err := discoverFromResourceMetadata(ctx, base+"/.well-known/oauth-protected-resource"); err == nil {
		return eps, nil
	}

	meta, err := fetchServerMetadata(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("authorization discovery failed: %w", err)
	}
	return endpointsFromMetadata(meta)
}

// metadataURLFromChallenge extracts the metadata URL from a Bearer
// challenge. Both resource_metadata and realm parameters are honored.
func metadataURLFromChallenge(challenge string) string {
	if !strings.HasPrefix(strings.ToLower(challenge), "bearer ") {
		return ""
	}
	params := challenge[len("Bearer "):]

	if v := challengeParam(params, "resource_metadata"); v != "" {
		return v
	}
	return challengeParam(params, "realm")
}

func challengeParam(params, key string) string {
	prefix := key + `="`
	idx := strings.Index(params, prefix)
	if idx == -1 {
		return ""
	}
	start := idx + len(prefix)
	end := strings.Index(params[start:], `"`)
	if end == -1 {
		return ""
	}
	return params[start : start+end]
}

// discoverFromResourceMetadata follows the RFC 9728 chain: resource
// metadata names the authorization server, whose own metadata names the
// endpoints.
func discoverFromResourceMetadata(ctx context.Context, metadataURL string) (*endpoints, error) {
	if !strings.Contains(metadataURL, "/.well-known/") {
		u, err := url.Parse(metadataURL)
		if err != nil {
			return nil, err
		}
		u.Path = "/.well-known/oauth-protected-resource"
		metadataURL = u.String()
	}

	var resource protectedResourceMetadata
	if err := fetchJSON(ctx, metadataURL, &resource); err != nil {
		return nil, err
	}
	if len(resource.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("no authorization servers in resource metadata")
	}

	meta, err := fetchServerMetadata(ctx, resource.AuthorizationServers[0])
	if err != nil {
		return nil, err
	}

	eps, err := endpointsFromMetadata(meta)
	if err != nil {
		return nil, err
	}
	if len(resource.ScopesSupported) > 0 {
		eps.Scopes = resource.ScopesSupported
	}
	return eps, nil
}

func fetchServerMetadata(ctx context.Context, issuerURL string) (*serverMetadata, error) {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/.well-known/oauth-authorization-server"

	var meta serverMetadata
	if err := fetchJSON(ctx, u.String(), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func endpointsFromMetadata(meta *serverMetadata) (*endpoints, error) {
	if meta.AuthorizationEndpoint == "" && meta.DeviceAuthorizationEndpoint == "" {
		return nil, fmt.Errorf("metadata exposes no usable authorization endpoint")
	}
	if meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata exposes no token endpoint")
	}

	// The browser flow requires S256 PKCE. A server that omits it can
	// still authorize through the device flow when one is offered.
	authURL := meta.AuthorizationEndpoint
	if authURL != "" && !slices.Contains(meta.CodeChallengeMethodsSupported, "S256") {
		if meta.DeviceAuthorizationEndpoint == "" {
			return nil, fmt.Errorf("authorization server does not support S256 PKCE")
		}
		logging.Debug("authorization endpoint lacks S256 PKCE, using the device flow")
		authURL = ""
	}

	return &endpoints{
		AuthURL:         authURL,
		TokenURL:        meta.TokenEndpoint,
		DeviceAuthURL:   meta.DeviceAuthorizationEndpoint,
		RegistrationURL: meta.RegistrationEndpoint,
		Scopes:          meta.ScopesSupported,
	}, nil
}

func fetchJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("metadata fetch failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
