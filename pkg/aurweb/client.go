// Package aurweb is a client for the AUR web RPC interface and snapshot downloads.
package aurweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public AUR.
	DefaultBaseURL = "https://aur.archlinux.org"

	// rpcVersion is the RPC interface version the client speaks.
	rpcVersion = "5"

	// maxJSONResponseBytes bounds the RPC response size.
	maxJSONResponseBytes = 4 << 20

	// DefaultMaxSnapshotBytes bounds a snapshot download.
	DefaultMaxSnapshotBytes = 256 << 20

	defaultTimeout = 60 * time.Second
)

var (
	// ErrUnexpectedStatus is wrapped by errors for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")

	// ErrSnapshotTooLarge is returned when a snapshot exceeds the size limit.
	ErrSnapshotTooLarge = errors.New("snapshot too large")
)

type (
	// Package is one RPC info result.
	Package struct {
		Name        string `json:"Name"`
		PackageBase string `json:"PackageBase,omitempty"`
		Version     string `json:"Version,omitempty"`
		URLPath     string `json:"URLPath"`
	}

	// InfoResponse is the RPC info payload.
	InfoResponse struct {
		ResultCount int       `json:"resultcount"`
		Results     []Package `json:"results"`
		Type        string    `json:"type,omitempty"`
		Error       string    `json:"error,omitempty"`
	}

	// Client queries an AUR instance.
	Client struct {
		httpClient  *http.Client
		baseURL     string
		userAgent   string
		maxSnapshot int64
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)
)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the AUR base URL.
func WithBaseURL(base string) ClientOption {
	return func(cl *Client) {
		if base != "" {
			cl.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMaxSnapshotBytes sets the largest snapshot Download accepts.
func WithMaxSnapshotBytes(n int64) ClientOption {
	return func(cl *Client) {
		if n > 0 {
			cl.maxSnapshot = n
		}
	}
}

// NewClient creates a Client for DefaultBaseURL unless overridden.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     DefaultBaseURL,
		userAgent:   "froyo-aur/dev",
		maxSnapshot: DefaultMaxSnapshotBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Info looks up name with the info RPC. Callers decide how to treat a
// result count other than one.
func (c *Client) Info(ctx context.Context, name string) (*InfoResponse, error) {
	q := url.Values{}
	q.Set("v", rpcVersion)
	q.Set("type", "info")
	q.Set("arg", name)
	reqURL := c.baseURL + "/rpc/?" + q.Encode()

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("querying package %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying package %s: %w %d", name, ErrUnexpectedStatus, resp.StatusCode)
	}

	var info InfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding info response for %s: %w", name, err)
	}
	if info.Type == "error" {
		return nil, fmt.Errorf("querying package %s: %s", name, info.Error)
	}
	return &info, nil
}

// Download opens the snapshot archive at urlPath, which is relative to the
// base URL. The caller must close the returned reader. Reading past the size
// limit fails with ErrSnapshotTooLarge instead of truncating the archive.
func (c *Client) Download(ctx context.Context, urlPath string) (io.ReadCloser, error) {
	if urlPath == "" {
		return nil, errors.New("empty snapshot path")
	}
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}

	resp, err := c.doRequest(ctx, c.baseURL+urlPath)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", urlPath, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: %w %d", urlPath, ErrUnexpectedStatus, resp.StatusCode)
	}

	if resp.ContentLength > c.maxSnapshot {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: %w: %d bytes exceeds %d", urlPath, ErrSnapshotTooLarge, resp.ContentLength, c.maxSnapshot)
	}

	return &limitedBody{
		r:      io.LimitReader(resp.Body, c.maxSnapshot+1),
		closer: resp.Body,
		max:    c.maxSnapshot,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.httpClient.Do(req)
}

// limitedBody reads at most max bytes and fails when the body holds more.
type limitedBody struct {
	r      io.Reader
	closer io.Closer
	max    int64
	read   int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		n = max(0, n-int(b.read-b.max))
		return n, fmt.Errorf("%w: exceeds %d bytes", ErrSnapshotTooLarge, b.max)
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.closer.Close()
}
