// Package urlfetch retrieves remote templates over http and https.
package urlfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openfroyo/stacker/pkg/telemetry"
)

// DefaultMaxSize is the largest template accepted by default, in bytes.
const DefaultMaxSize = 512 * 1024

// ErrTooLarge is returned when a template exceeds the configured size.
var ErrTooLarge = errors.New("template exceeds maximum allowed size")

// Config configures a Fetcher.
type Config struct {
	// Timeout bounds a single fetch.
	Timeout time.Duration

	// MaxSize is the largest body accepted, in bytes.
	MaxSize int64

	// AllowedSchemes lists the URL schemes that may be fetched.
	AllowedSchemes []string

	// Client overrides the HTTP client.
	Client *http.Client

	// Logger receives fetch diagnostics.
	Logger *telemetry.Logger
}

func (c *Config) defaults() error {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("max size must be positive")
	}
	if len(c.AllowedSchemes) == 0 {
		c.AllowedSchemes = []string{"http", "https"}
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = telemetry.NopLogger()
	}
	return nil
}

// Fetcher fetches templates by URL.
type Fetcher struct {
	cfg Config
}

// New returns a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid fetch configuration: %w", err)
	}
	return &Fetcher{cfg: cfg}, nil
}

// Fetch returns the body of the document at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.cfg.Logger.Debugf("fetching template from %s", rawURL)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if !f.schemeAllowed(u.Scheme) {
		return nil, fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected response status %s", resp.Status)
	}
	if resp.ContentLength > f.cfg.MaxSize {
		return nil, ErrTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxSize {
		return nil, ErrTooLarge
	}

	return body, nil
}

func (f *Fetcher) schemeAllowed(scheme string) bool {
	for _, s := range f.cfg.AllowedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}
