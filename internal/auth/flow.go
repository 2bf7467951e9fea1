package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"recap/internal/logging"
)

// callbackTimeout bounds how long the loopback server waits for the user
// to finish the browser flow.
const callbackTimeout = 60 * time.Second

// authCodeFlow runs the authorization code flow with PKCE against a
// loopback redirect. It opens the system browser and waits for the
// callback, then exchanges the code for a token.
func (a *Authenticator) authCodeFlow(ctx context.Context, serverURL string, eps *endpoints, creds *ClientCredentials, scopes []string) (*oauth2.Token, error) {
	verifier := oauth2.GenerateVerifier()

	oauthCfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  eps.AuthURL,
			TokenURL: eps.TokenURL,
		},
		Scopes: scopes,
	}

	redirectURI, results, shutdown, err := startCallbackServer(a.redirectPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	defer shutdown()
	oauthCfg.RedirectURL = redirectURI

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	authURL := oauthCfg.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", serverURL),
	)

	a.prompt("Opening browser for authorization.\nIf it does not open, visit:\n%s\n", authURL)
	if err := openBrowser(authURL); err != nil {
		logging.Warn("could not open browser", "error", err)
	}

	var result callbackResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(callbackTimeout):
		return nil, fmt.Errorf("authorization timed out after %v", callbackTimeout)
	}
	if result.err != nil {
		return nil, result.err
	}
	if result.state != state {
		return nil, fmt.Errorf("authorization state mismatch")
	}

	token, err := oauthCfg.Exchange(
		ctx,
		result.code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("resource", serverURL),
	)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

type callbackResult struct {
	code  string
	state string
	err   error
}

// startCallbackServer listens on a loopback port for the OAuth redirect.
// Port 0 picks an ephemeral port.
func startCallbackServer(port int) (string, <-chan callbackResult, func(), error) {
	results := make(chan callbackResult, 1)
	// Only the first callback counts; a refreshed or duplicate redirect
	// must not block its handler.
	deliver := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", nil, nil, err
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", actualPort)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			msg := errParam
			if desc := query.Get("error_description"); desc != "" {
				msg = fmt.Sprintf("%s: %s", msg, desc)
			}
			deliver(callbackResult{err: fmt.Errorf("authorization refused: %s", msg)})
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>%s</p></body></html>", html.EscapeString(msg))
			return
		}

		code := query.Get("code")
		if code == "" {
			deliver(callbackResult{err: fmt.Errorf("no authorization code in callback")})
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<html><body><h1>Authorization failed</h1><p>No code received.</p></body></html>")
			return
		}

		deliver(callbackResult{code: code, state: query.Get("state")})
		fmt.Fprint(w, "<html><body><h1>Authorization complete</h1><p>You can close this window.</p></body></html>")
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			deliver(callbackResult{err: err})
		}
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
	return redirectURI, results, shutdown, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", url).Start()
	default:
		for _, opener := range []string{"xdg-open", "x-www-browser", "firefox", "chromium"} {
			if _, err := exec.LookPath(opener); err == nil {
				return exec.Command(opener, url).Start()
			}
		}
		return fmt.Errorf("no browser opener found")
	}
}

// deviceCodeResponse is the RFC 8628 device authorization response.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// deviceFlow runs the device authorization grant: request a user code,
// show it, and poll the token endpoint until the user approves.
func (a *Authenticator) deviceFlow(ctx context.Context, serverURL string, eps *endpoints, creds *ClientCredentials, scopes []string) (*oauth2.Token, error) {
	deviceResp, err := requestDeviceCode(ctx, eps, creds, serverURL, scopes)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}

	target := deviceResp.VerificationURI
	if deviceResp.VerificationURIComplete != "" {
		target = deviceResp.VerificationURIComplete
	}
	a.prompt("To authorize, visit %s and enter code %s\n", target, deviceResp.UserCode)

	return pollForToken(ctx, eps, creds, serverURL, deviceResp)
}

func requestDeviceCode(ctx context.Context, eps *endpoints, creds *ClientCredentials, serverURL string, scopes []string) (*deviceCodeResponse, error) {
	data := url.Values{
		"client_id": {creds.ClientID},
		"scope":     {strings.Join(scopes, " ")},
		"resource":  {serverURL},
	}
	if creds.ClientSecret != "" {
		data.Set("client_secret", creds.ClientSecret)
	}

	body, err := postForm(ctx, eps.DeviceAuthURL, data)
	if err != nil {
		return nil, err
	}

	var deviceResp deviceCodeResponse
	if err := json.Unmarshal(body, &deviceResp); err != nil {
		return nil, fmt.Errorf("failed to decode device code response: %w", err)
	}
	if deviceResp.DeviceCode == "" || deviceResp.UserCode == "" {
		return nil, fmt.Errorf("device code response missing codes")
	}
	return &deviceResp, nil
}

func pollForToken(ctx context.Context, eps *endpoints, creds *ClientCredentials, serverURL string, deviceResp *deviceCodeResponse) (*oauth2.Token, error) {
	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval == 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("device code expired before authorization")
			}

			token, err := exchangeDeviceCode(ctx, eps, creds, serverURL, deviceResp.DeviceCode)
			if err != nil {
				if strings.Contains(err.Error(), "authorization_pending") {
					continue
				}
				if strings.Contains(err.Error(), "slow_down") {
					interval += 5 * time.Second
					ticker.Reset(interval)
					continue
				}
				return nil, err
			}
			return token, nil
		}
	}
}

func exchangeDeviceCode(ctx context.Context, eps *endpoints, creds *ClientCredentials, serverURL, deviceCode string) (*oauth2.Token, error) {
	data := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
		"client_id":   {creds.ClientID},
		"resource":    {serverURL},
	}
	if creds.ClientSecret != "" {
		data.Set("client_secret", creds.ClientSecret)
	}

	body, err := postForm(ctx, eps.TokenURL, data)
	if err != nil {
		return nil, err
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in,omitempty"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	out := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if token.ExpiresIn > 0 {
		out.Expiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return out, nil
}

func postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description,omitempty"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			if errResp.ErrorDescription != "" {
				return nil, fmt.Errorf("%s: %s", errResp.Error, errResp.ErrorDescription)
			}
			return nil, fmt.Errorf("%s", errResp.Error)
		}
		return nil, fmt.Errorf("request failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
