package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// ClientCredentials identifies this program to an authorization server,
// either statically configured or obtained via dynamic registration.
// TokenURL is recorded so refreshes work without re-running discovery.
type ClientCredentials struct {
	ServerURL    string    `json:"server_url"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	TokenURL     string    `json:"token_url,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// storedToken is the on-disk shape of a cached token, keyed by server URL.
type storedToken struct {
	ServerURL    string    `json:"server_url"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// TokenStore persists OAuth tokens and client credentials per server URL.
// LoadToken and LoadClient return nil without error when nothing is cached.
type TokenStore interface {
	LoadToken(serverURL string) (*oauth2.Token, error)
	SaveToken(serverURL string, token *oauth2.Token, scopes []string) error
	ClearToken(serverURL string) error

	LoadClient(serverURL string) (*ClientCredentials, error)
	SaveClient(serverURL string, creds *ClientCredentials) error
}

// FileTokenStore keeps credentials under a base directory, one JSON file
// per server, named by a hash of the server URL. Token files are written
// with owner-only permissions.
type FileTokenStore struct {
	baseDir string
}

// NewFileTokenStore creates a file-backed store rooted at baseDir,
// typically the data directory.
func NewFileTokenStore(baseDir string) *FileTokenStore {
	return &FileTokenStore{baseDir: baseDir}
}

func cacheKey(serverURL string) string {
	hash := sha256.Sum256([]byte(serverURL))
	return hex.EncodeToString(hash[:8])
}

func (s *FileTokenStore) tokenPath(serverURL string) string {
	return filepath.Join(s.baseDir, "tokens", cacheKey(serverURL)+".json")
}

func (s *FileTokenStore) clientPath(serverURL string) string {
	return filepath.Join(s.baseDir, "clients", cacheKey(serverURL)+".json")
}

// LoadToken returns the cached token for a server URL, or nil when absent.
func (s *FileTokenStore) LoadToken(serverURL string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.tokenPath(serverURL))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if stored.ServerURL != serverURL {
		return nil, fmt.Errorf("token cache server URL mismatch")
	}

	return &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}, nil
}

// SaveToken writes a token to the cache with 0600 permissions.
func (s *FileTokenStore) SaveToken(serverURL string, token *oauth2.Token, scopes []string) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	stored := storedToken{
		ServerURL:    serverURL,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Scopes:       scopes,
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	return writeSecure(s.tokenPath(serverURL), data)
}

// ClearToken removes the cached token for a server URL. Missing files are
// not an error.
func (s *FileTokenStore) ClearToken(serverURL string) error {
	if err := os.Remove(s.tokenPath(serverURL)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token cache: %w", err)
	}
	return nil
}

// LoadClient returns the cached client credentials for a server URL, or nil
// when absent.
func (s *FileTokenStore) LoadClient(serverURL string) (*ClientCredentials, error) {
	data, err := os.ReadFile(s.clientPath(serverURL))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client cache: %w", err)
	}

	var creds ClientCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse client cache: %w", err)
	}
	return &creds, nil
}

// SaveClient writes client credentials to the cache.
func (s *FileTokenStore) SaveClient(serverURL string, creds *ClientCredentials) error {
	if creds == nil || creds.ClientID == "" {
		return fmt.Errorf("invalid client credentials")
	}
	creds.ServerURL = serverURL

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client credentials: %w", err)
	}
	return writeSecure(s.clientPath(serverURL), data)
}

func writeSecure(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}
