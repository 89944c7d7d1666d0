// Package ssh connects the engine to a remote Arch host: commands run in
// SSH sessions and workspaces live on the host through SFTP.
package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/afero/sftpfs"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "sftp")
	Op string

	// Err is the underlying error
	Err error

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is a connection to one remote host.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu    sync.Mutex
	conn  *ssh.Client
	proxy *ssh.Client
	sftp  *sftp.Client
}

// Dial connects to the host described by config, through the jump host
// when one is configured.
func Dial(ctx context.Context, config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig, err := config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	c := &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}

	if config.IsProxyEnabled() {
		if err := c.dialViaProxy(ctx, clientConfig); err != nil {
			return nil, err
		}
	} else {
		conn, err := c.dialTCP(ctx, config.Address())
		if err != nil {
			return nil, &TransportError{Op: "connect", Err: err}
		}
		if err := c.handshake(conn, clientConfig); err != nil {
			return nil, err
		}
	}

	c.logger.Info().Msg("SSH connection established")
	return c, nil
}

func (c *Client) dialTCP(ctx context.Context, address string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.config.ConnectionTimeout}
	return d.DialContext(ctx, "tcp", address)
}

func (c *Client) handshake(conn net.Conn, clientConfig *ssh.ClientConfig) error {
	ncc, chans, reqs, err := ssh.NewClientConn(conn, c.config.Address(), clientConfig)
	if err != nil {
		_ = conn.Close()
		return &TransportError{Op: "handshake", Err: err, IsAuthError: true}
	}
	c.conn = ssh.NewClient(ncc, chans, reqs)
	return nil
}

func (c *Client) dialViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	proxyConfig, err := c.config.BuildProxyClientConfig()
	if err != nil {
		return &TransportError{Op: "connect-proxy", Err: err, IsAuthError: true}
	}

	c.logger.Debug().Str("proxy", c.config.ProxyAddress()).Msg("Connecting to jump host")

	raw, err := c.dialTCP(ctx, c.config.ProxyAddress())
	if err != nil {
		return &TransportError{Op: "connect-proxy", Err: err}
	}
	ncc, chans, reqs, err := ssh.NewClientConn(raw, c.config.ProxyAddress(), proxyConfig)
	if err != nil {
		_ = raw.Close()
		return &TransportError{Op: "connect-proxy", Err: err, IsAuthError: true}
	}
	c.proxy = ssh.NewClient(ncc, chans, reqs)

	conn, err := c.proxy.DialContext(ctx, "tcp", c.config.Address())
	if err != nil {
		_ = c.proxy.Close()
		return &TransportError{Op: "connect-via-proxy", Err: err}
	}
	if err := c.handshake(conn, targetConfig); err != nil {
		_ = c.proxy.Close()
		return err
	}
	return nil
}

// Close closes the SFTP session and the SSH connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.sftp != nil {
		firstErr = c.sftp.Close()
		c.sftp = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	if c.proxy != nil {
		if err := c.proxy.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.proxy = nil
	}

	c.logger.Debug().Msg("SSH connection closed")
	return firstErr
}

func (c *Client) client() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.conn, nil
}

// Fs returns the remote filesystem, opening an SFTP session on first use.
func (c *Client) Fs() (afero.Fs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("not connected")}
	}
	if c.sftp == nil {
		client, err := sftp.NewClient(c.conn)
		if err != nil {
			return nil, &TransportError{Op: "sftp", Err: err}
		}
		c.sftp = client
	}
	return sftpfs.New(c.sftp), nil
}

// Host returns an engine host acting on the remote machine. Workspaces
// are created under tempDir on the remote side, /tmp when empty.
func (c *Client) Host(tempDir string) (aur.Host, error) {
	fs, err := c.Fs()
	if err != nil {
		return aur.Host{}, err
	}
	if tempDir == "" {
		tempDir = "/tmp"
	}
	return aur.Host{
		Executor: c,
		Paths:    c,
		Fs:       fs,
		TempDir:  tempDir,
	}, nil
}
