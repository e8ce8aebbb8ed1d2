package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// OpenSky defaults
const (
	DefaultOpenSkyURL      = "https://opensky-network.org/api/states/all"
	DefaultOpenSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
)

// OpenSkyOptions configures the OpenSky client. Without credentials the
// client queries anonymously, which OpenSky rate limits harder.
type OpenSkyOptions struct {
	ClientOptions
	ClientID        string
	ClientSecret    string
	TokenURL        string
	CredentialsPath string
}

// StateVector is one OpenSky state. Nullable columns stay nil when OpenSky
// sends null.
type StateVector struct {
	ICAO24         string
	Callsign       string
	TimePosition   *int64
	LastContact    *int64
	Longitude      *float64
	Latitude       *float64
	BaroAltitudeM  *float64
	OnGround       bool
	VelocityMS     *float64
	TrueTrack      *float64
	VerticalRateMS *float64
}

// Timestamp returns the position time, falling back to the last contact and
// then to fallback
func (s *StateVector) Timestamp(fallback time.Time) time.Time {
	if s.TimePosition != nil {
		return time.Unix(*s.TimePosition, 0).UTC()
	}
	if s.LastContact != nil {
		return time.Unix(*s.LastContact, 0).UTC()
	}
	return fallback
}

// OpenSkyClient fetches state vectors by transponder address
type OpenSkyClient struct {
	transport *transport
	opts      OpenSkyOptions
	now       func() time.Time

	// Cached OAuth2 token
	token       string
	tokenExpiry time.Time
	tokenMu     sync.Mutex
}

// NewOpenSkyClient creates an OpenSky client
func NewOpenSkyClient(opts OpenSkyOptions, log *logger.Logger) *OpenSkyClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenSkyURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultOpenSkyTokenURL
	}
	return &OpenSkyClient{
		transport: newTransport(OpenSky, opts.ClientOptions, log.Named("opensky")),
		opts:      opts,
		now:       time.Now,
	}
}

// FetchByAddress returns the most recent state vector for a hex transponder
// address, or nil when OpenSky currently has none.
func (c *OpenSkyClient) FetchByAddress(ctx context.Context, icao24 string) (*StateVector, error) {
	header := http.Header{}
	token, err := c.accessToken(ctx)
	if err != nil {
		// Fall back to an anonymous request
		c.transport.logger.Warn("OpenSky token unavailable, querying anonymously", logger.Error(err))
	} else if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	var osResp struct {
		Time   int64           `json:"time"`
		States [][]interface{} `json:"states"`
	}
	query := url.Values{"icao24": {strings.ToLower(icao24)}}
	if err := c.transport.getJSON(ctx, query, header, &osResp); err != nil {
		return nil, err
	}

	if len(osResp.States) == 0 {
		c.transport.logger.Debug("No OpenSky state for address", logger.String("icao24", icao24))
		return nil, nil
	}

	sv := parseState(osResp.States[0])
	c.transport.logger.Debug("Fetched OpenSky state",
		logger.String("icao24", sv.ICAO24),
		logger.String("callsign", sv.Callsign),
		logger.Bool("on_ground", sv.OnGround))
	return &sv, nil
}

// parseState extracts a state vector defensively; OpenSky sends positional
// arrays whose columns may be null or missing
func parseState(s []interface{}) StateVector {
	sv := StateVector{
		ICAO24:         stringAt(s, 0),
		Callsign:       strings.TrimSpace(stringAt(s, 1)),
		TimePosition:   intAt(s, 3),
		LastContact:    intAt(s, 4),
		Longitude:      floatAt(s, 5),
		Latitude:       floatAt(s, 6),
		BaroAltitudeM:  floatAt(s, 7),
		VelocityMS:     floatAt(s, 9),
		TrueTrack:      floatAt(s, 10),
		VerticalRateMS: floatAt(s, 11),
	}
	if len(s) > 8 {
		if v, ok := s[8].(bool); ok {
			sv.OnGround = v
		}
	}
	return sv
}

func stringAt(s []interface{}, i int) string {
	if len(s) > i {
		if v, ok := s[i].(string); ok {
			return v
		}
	}
	return ""
}

func floatAt(s []interface{}, i int) *float64 {
	if len(s) > i {
		if v, ok := s[i].(float64); ok {
			return &v
		}
	}
	return nil
}

func intAt(s []interface{}, i int) *int64 {
	if f := floatAt(s, i); f != nil {
		v := int64(*f)
		return &v
	}
	return nil
}

// accessToken returns a bearer token, or "" for anonymous access.
//
// Credentials come from the options first, then from the credentials file.
// A file may carry an access_token directly or client_id/client_secret for
// the client credentials grant.
func (c *OpenSkyClient) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	clientID, clientSecret := c.opts.ClientID, c.opts.ClientSecret
	tokenURL := c.opts.TokenURL

	if (clientID == "" || clientSecret == "") && c.opts.CredentialsPath != "" {
		creds, err := readCredentials(c.opts.CredentialsPath)
		if err != nil {
			return "", err
		}
		if tok := firstString(creds, "access_token", "access-token", "accessToken"); tok != "" {
			c.token = tok
			c.tokenExpiry = c.now().Add(29 * time.Minute)
			return tok, nil
		}
		clientID = firstString(creds, "client_id", "client-id", "clientId")
		clientSecret = firstString(creds, "client_secret", "client-secret", "clientSecret")
		if u := firstString(creds, "token_url", "token-url", "tokenUrl"); u != "" {
			tokenURL = u
		}
	}

	if clientID == "" || clientSecret == "" {
		return "", nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create opensky token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.transport.userAgent)

	c.transport.logger.Debug("Requesting OpenSky OAuth2 token", logger.String("token_url", tokenURL))
	resp, err := c.transport.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request opensky token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("opensky token endpoint error: %d", resp.StatusCode)
	}

	var tokResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", fmt.Errorf("failed to decode opensky token response: %w", err)
	}
	if tokResp.AccessToken == "" {
		return "", fmt.Errorf("opensky token response did not contain access_token")
	}

	expiry := c.now().Add(29 * time.Minute)
	if tokResp.ExpiresIn > 60 {
		expiry = c.now().Add(time.Duration(tokResp.ExpiresIn-30) * time.Second)
	}
	c.token = tokResp.AccessToken
	c.tokenExpiry = expiry
	return c.token, nil
}

func readCredentials(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read opensky credentials: %w", err)
	}
	var creds map[string]interface{}
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("invalid opensky credentials JSON: %w", err)
	}
	return creds, nil
}

// firstString picks the first non-empty string among several spellings of a key
func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
