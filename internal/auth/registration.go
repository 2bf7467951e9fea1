package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type clientRegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

type clientRegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// registerClient performs dynamic client registration (RFC 7591) and
// returns the issued credentials. The client registers as public: tokens
// are bound by PKCE rather than a secret.
func registerClient(ctx context.Context, registrationURL, serverURL string, scopes []string) (*ClientCredentials, error) {
	if registrationURL == "" {
		return nil, fmt.Errorf("registration endpoint not provided")
	}

	reqBody, err := json.Marshal(clientRegistrationRequest{
		ClientName:   "recap",
		RedirectURIs: []string{"http://127.0.0.1/callback"},
		GrantTypes: []string{
			"authorization_code",
			"urn:ietf:params:oauth:grant-type:device_code",
			"refresh_token",
		},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(scopes, " "),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationURL, strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var regResp clientRegistrationResponse
	if err := json.Unmarshal(body, &regResp); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}
	if regResp.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}

	return &ClientCredentials{
		ServerURL:    serverURL,
		ClientID:     regResp.ClientID,
		ClientSecret: regResp.ClientSecret,
		RegisteredAt: time.Now(),
	}, nil
}
