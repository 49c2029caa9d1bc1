// Package geo resolves a visitor's remote network address into a coarse
// city/country location.
//
// Two resolver strategies exist: [Static] returns a fixed location for
// deterministic environments, and [Client] performs the live HTTP lookups.
// Which one runs is an explicit constructor-time choice made by the caller,
// never an ambient environment branch inside the resolver.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

const (
	defaultLookupURL   = "https://ipinfo.io/%s/json"
	defaultPublicIPURL = "https://jsonip.com"
	defaultTimeout     = 5 * time.Second
)

// ErrMalformedResponse indicates the lookup endpoint answered with a body
// that could not be decoded.
var ErrMalformedResponse = errors.New("geo: malformed response")

// Location is the coarse geolocation attached to a visitor context.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Resolver turns a remote address into a Location.
type Resolver interface {
	Resolve(ctx context.Context, remoteAddr string) (Location, error)
}

// Static is a Resolver that always returns a fixed location.
type Static struct {
	Location Location
}

func (s Static) Resolve(context.Context, string) (Location, error) {
	return s.Location, nil
}

// LookupError wraps a transport-level failure of one of the lookup calls so
// callers can distinguish network trouble from a malformed response.
type LookupError struct {
	URL string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("geo: lookup %s: %v", e.URL, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Config holds configuration for the live resolver.
type Config struct {
	// LookupURL is the geolocation endpoint; it must contain one %s verb for
	// the address being resolved.
	LookupURL string
	// PublicIPURL is the own-address discovery endpoint, consulted when the
	// remote address is missing or not publicly routable.
	PublicIPURL string
	// Timeout bounds each of the two lookup calls. Defaults to 5s.
	Timeout time.Duration
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client is the live Resolver. It chains up to two HTTP calls: own-address
// discovery when the caller sits behind a proxy or on a private network,
// then the geolocation lookup itself.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient returns a live resolver, applying defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.LookupURL == "" {
		cfg.LookupURL = defaultLookupURL
	}
	if !strings.Contains(cfg.LookupURL, "%s") {
		panic("geo: LookupURL must contain a %s verb for the address being resolved")
	}
	if cfg.PublicIPURL == "" {
		cfg.PublicIPURL = defaultPublicIPURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{cfg: cfg, httpClient: hc}
}

func (c *Client) Resolve(ctx context.Context, remoteAddr string) (Location, error) {
	addr := strings.TrimSpace(remoteAddr)
	if !isPublicAddress(addr) {
		discovered, err := c.publicIP(ctx)
		if err != nil {
			return Location{}, err
		}
		addr = discovered
	}

	var location Location
	url := fmt.Sprintf(c.cfg.LookupURL, addr)
	if err := c.getJSON(ctx, url, &location); err != nil {
		return Location{}, err
	}

	return location, nil
}

func (c *Client) publicIP(ctx context.Context) (string, error) {
	var body struct {
		IP string `json:"ip"`
	}
	if err := c.getJSON(ctx, c.cfg.PublicIPURL, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.IP) == "" {
		return "", fmt.Errorf("%w: empty ip from %s", ErrMalformedResponse, c.cfg.PublicIPURL)
	}

	return body.IP, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &LookupError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &LookupError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &LookupError{URL: url, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedResponse, url, err)
	}

	return nil
}

func isPublicAddress(addr string) bool {
	if addr == "" {
		return false
	}

	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}

	return !parsed.IsPrivate() && !parsed.IsLoopback() && !parsed.IsUnspecified() && !parsed.IsLinkLocalUnicast()
}
