package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// DefaultUserAgent is sent with every provider request
const DefaultUserAgent = "MFA-MyFlightAssistant/0.1"

// DefaultTimeout bounds a single provider call
const DefaultTimeout = 15 * time.Second

// ClientOptions are the transport settings shared by all provider clients
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerMinute throttles outgoing calls; zero means unlimited
	RequestsPerMinute float64
}

// transport performs throttled JSON GET requests for one provider
type transport struct {
	name       string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

func newTransport(name string, opts ClientOptions, log *logger.Logger) *transport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(opts.RequestsPerMinute / 60)
	}

	return &transport{
		name:      name,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  log,
	}
}

// getJSON fetches baseURL with the given query and decodes the body into out.
// Every failure is wrapped in ErrProviderUnavailable.
func (t *transport) getJSON(ctx context.Context, query url.Values, header http.Header, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s rate limiter: %v", ErrProviderUnavailable, t.name, err)
	}

	urlStr := t.baseURL
	if len(query) > 0 {
		urlStr += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fmt.Errorf("%w: %s failed to create request: %v", ErrProviderUnavailable, t.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	t.logger.Debug("Fetching provider data", logger.String("url", redact(urlStr)))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s failed to execute request: %v", ErrProviderUnavailable, t.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.logger.Warn("Unexpected provider status code",
			logger.Int("status_code", resp.StatusCode),
			logger.String("body", string(body)))
		return fmt.Errorf("%w: %s unexpected status code: %d", ErrProviderUnavailable, t.name, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s failed to parse JSON: %v", ErrProviderUnavailable, t.name, err)
	}
	return nil
}

// redact hides the access key in logged URLs
func redact(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	q := u.Query()
	if q.Has("access_key") {
		q.Set("access_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
