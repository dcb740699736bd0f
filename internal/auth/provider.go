// ABOUTME: Client-side bearer token sources used when dialing the backend
// ABOUTME: Static, env/file, HTTP endpoint with retries, and an exp-aware cache

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNoToken is returned when a provider has no token to offer.
var ErrNoToken = errors.New("no token available")

// TokenProvider returns the current bearer token. Implementations may block
// on I/O and must honor ctx.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// DefaultTokenPath returns $XDG_CONFIG_HOME/<app>/token, falling back to
// ~/.config/<app>/token.
func DefaultTokenPath(app string) (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, app, "token"), nil
}

// FileProvider reads the token from an environment variable, then from a
// file. Both are re-read on every call so a rotated token is picked up on
// the next reconnect.
type FileProvider struct {
	EnvVar string
	Path   string
}

func (p *FileProvider) Token(context.Context) (string, error) {
	if p.EnvVar != "" {
		if token := os.Getenv(p.EnvVar); token != "" {
			return token, nil
		}
	}
	if p.Path == "" {
		return "", ErrNoToken
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// HTTPProviderOptions tunes the retrying client behind HTTPProvider.
type HTTPProviderOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Header is sent with every token request, e.g. a session cookie.
	Header http.Header
	Logger *slog.Logger
}

// HTTPProvider fetches tokens from an endpoint answering {"token": "..."}.
type HTTPProvider struct {
	client   *retryablehttp.Client
	endpoint string
	header   http.Header
}

// NewHTTPProvider creates a provider for endpoint. Transient failures are
// retried with backoff by go-retryablehttp.
func NewHTTPProvider(endpoint string, opts HTTPProviderOptions) *HTTPProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Logger != nil {
		client.Logger = opts.Logger.With("component", "token_client")
	} else {
		client.Logger = nil
	}

	return &HTTPProvider{
		client:   client,
		endpoint: endpoint,
		header:   opts.Header,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (p *HTTPProvider) Token(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.Token == "" {
		return "", ErrNoToken
	}
	return tr.Token, nil
}

// CachingProvider reuses a token until shortly before its exp claim.
// Tokens without a readable exp are kept for FallbackTTL.
type CachingProvider struct {
	src         TokenProvider
	skew        time.Duration
	FallbackTTL time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// NewCachingProvider wraps src. A token is refreshed once it is within skew
// of expiring.
func NewCachingProvider(src TokenProvider, skew time.Duration) *CachingProvider {
	return &CachingProvider{
		src:         src,
		skew:        skew,
		FallbackTTL: 5 * time.Minute,
		now:         time.Now,
	}
}

func (c *CachingProvider) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expires.Add(-c.skew)) {
		return c.token, nil
	}

	token, err := c.src.Token(ctx)
	if err != nil {
		return "", err
	}

	exp, ok := expiresAt(token)
	if !ok {
		exp = now.Add(c.FallbackTTL)
	}
	c.token = token
	c.expires = exp
	return token, nil
}
