package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"recap/internal/logging"
	"recap/internal/recording"
)

// Uploader pushes a finished recording to the video host and returns the
// public URL it will be served from.
type Uploader interface {
	Upload(ctx context.Context, rec *recording.Recording) (string, error)
	Close() error
}

// SFTPConfig holds the connection settings for the video host.
type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	KeyPassphrase  string
	Password       string // fallback if no key
	KnownHostsPath string // empty tries ~/.ssh/known_hosts
	RemoteDir      string
	PublicBaseURL  string
	Timeout        time.Duration
}

func (c *SFTPConfig) withDefaults() *SFTPConfig {
	out := *c
	if out.Port == 0 {
		out.Port = 22
	}
	if out.User == "" {
		if current, err := user.Current(); err == nil {
			out.User = current.Username
		}
	}
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	return &out
}

// SFTPUploader copies recordings to a host over SFTP. The connection is
// kept open between uploads and redialed when the keepalive fails.
type SFTPUploader struct {
	config *SFTPConfig
	mu     sync.Mutex
	conn   *ssh.Client
}

// NewSFTPUploader creates an uploader for the given host. No connection
// is made until the first upload.
func NewSFTPUploader(config *SFTPConfig) (*SFTPUploader, error) {
	if config == nil || config.Host == "" {
		return nil, fmt.Errorf("upload host not configured")
	}
	if config.PublicBaseURL == "" {
		return nil, fmt.Errorf("upload public base URL not configured")
	}
	return &SFTPUploader{config: config.withDefaults()}, nil
}

// Upload copies the recording file to the remote directory and returns
// the public URL it is served from.
func (u *SFTPUploader) Upload(ctx context.Context, rec *recording.Recording) (string, error) {
	if rec.Path == "" {
		return "", fmt.Errorf("recording %s has no local file", rec.ID)
	}

	conn, err := u.connect(ctx)
	if err != nil {
		return "", err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer client.Close()

	local, err := os.Open(rec.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open recording file: %w", err)
	}
	defer local.Close()

	remoteName := rec.ID + filepath.Ext(rec.Path)
	remotePath := remoteName
	if u.config.RemoteDir != "" {
		if err := client.MkdirAll(u.config.RemoteDir); err != nil {
			return "", fmt.Errorf("failed to create remote directory: %w", err)
		}
		remotePath = path.Join(u.config.RemoteDir, remoteName)
	}

	remote, err := client.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remote.Close()

	n, err := io.Copy(remote, local)
	if err != nil {
		return "", fmt.Errorf("failed to copy recording: %w", err)
	}
	if err := client.Chmod(remotePath, 0o644); err != nil {
		logging.Warn("failed to set remote file permissions", "error", err)
	}

	publicURL, err := url.JoinPath(u.config.PublicBaseURL, remoteName)
	if err != nil {
		return "", fmt.Errorf("invalid public base URL: %w", err)
	}

	logging.Info("recording uploaded", "recording", rec.ID, "remote", remotePath, "bytes", n)
	return publicURL, nil
}

// connect returns a live SSH connection, reusing the previous one when
// its keepalive still answers.
func (u *SFTPUploader) connect(ctx context.Context) (*ssh.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		if _, _, err := u.conn.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return u.conn, nil
		}
		u.conn.Close()
		u.conn = nil
	}

	sshConfig, err := u.buildSSHConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH config: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", u.config.Host, u.config.Port)
	logging.Info("connecting to upload host", "addr", addr, "user", u.config.User)

	dialer := &net.Dialer{Timeout: u.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	u.conn = ssh.NewClient(sshConn, chans, reqs)
	return u.conn, nil
}

func (u *SFTPUploader) buildSSHConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if u.config.KeyPath != "" {
		keyPath := expandPath(u.config.KeyPath)
		if key, err := os.ReadFile(keyPath); err != nil {
			logging.Warn("failed to read SSH key", "path", keyPath, "error", err)
		} else {
			var signer ssh.Signer
			if u.config.KeyPassphrase != "" {
				signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(u.config.KeyPassphrase))
			} else {
				signer, err = ssh.ParsePrivateKey(key)
			}
			if err != nil {
				logging.Warn("failed to parse SSH key", "path", keyPath, "error", err)
			} else {
				authMethods = append(authMethods, ssh.PublicKeys(signer))
			}
		}
	}

	// Fall back to the usual key files.
	if len(authMethods) == 0 {
		for _, keyFile := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			keyPath := expandPath(filepath.Join("~/.ssh", keyFile))
			if key, err := os.ReadFile(keyPath); err == nil {
				if signer, err := ssh.ParsePrivateKey(key); err == nil {
					authMethods = append(authMethods, ssh.PublicKeys(signer))
					break
				}
			}
		}
	}

	if u.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(u.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method available")
	}

	return &ssh.ClientConfig{
		User:            u.config.User,
		Auth:            authMethods,
		HostKeyCallback: u.hostKeyCallback(),
		Timeout:         u.config.Timeout,
	}, nil
}

// hostKeyCallback verifies the host against known_hosts when a file is
// available. A host the user has never connected to from this machine
// gets a logged warning instead of a hard failure; the upload target is
// their own server and the first connection would otherwise dead-end
// with no way to accept the key.
func (u *SFTPUploader) hostKeyCallback() ssh.HostKeyCallback {
	path := u.config.KnownHostsPath
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	path = expandPath(path)

	verify, err := knownhosts.New(path)
	if err != nil {
		logging.Warn("known_hosts unavailable, skipping host key verification", "path", path, "error", err)
		return ssh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			// Unknown host, not a mismatch.
			logging.Warn("upload host not in known_hosts, continuing unverified", "host", hostname)
			return nil
		}
		return err
	}
}

// Close closes the SSH connection.
func (u *SFTPUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		err := u.conn.Close()
		u.conn = nil
		return err
	}
	return nil
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if usr, err := user.Current(); err == nil {
			return filepath.Join(usr.HomeDir, p[2:])
		}
	}
	return p
}
