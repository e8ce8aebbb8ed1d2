package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

const n728skState = `{"time":1740852000,"states":[
	["a9c2e5","SKW5432 ","United States",1740851995,1740851999,-111.2,34.1,10668.0,false,231.5,135.2,0.0,null,10800.0,"4521",false,0]
]}`

func newOpenSky(t *testing.T, handler http.HandlerFunc, opts OpenSkyOptions) *OpenSkyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	return NewOpenSkyClient(opts, logger.NewNop())
}

func TestOpenSkyFetchByAddress(t *testing.T) {
	c := newOpenSky(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a9c2e5", r.URL.Query().Get("icao24"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(n728skState))
	}, OpenSkyOptions{})

	sv, err := c.FetchByAddress(context.Background(), "A9C2E5")
	require.NoError(t, err)
	require.NotNil(t, sv)

	assert.Equal(t, "a9c2e5", sv.ICAO24)
	assert.Equal(t, "SKW5432", sv.Callsign)
	assert.False(t, sv.OnGround)
	require.NotNil(t, sv.Latitude)
	assert.Equal(t, 34.1, *sv.Latitude)
	require.NotNil(t, sv.BaroAltitudeM)
	assert.Equal(t, 10668.0, *sv.BaroAltitudeM)
	assert.Equal(t, time.Unix(1740851995, 0).UTC(), sv.Timestamp(time.Time{}))
}

func TestOpenSkyNoStates(t *testing.T) {
	c := newOpenSky(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time":1740852000,"states":null}`))
	}, OpenSkyOptions{})

	sv, err := c.FetchByAddress(context.Background(), "a00001")
	require.NoError(t, err)
	assert.Nil(t, sv)
}

func TestOpenSkyFailuresAreUnavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"states":`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			c := newOpenSky(t, h, OpenSkyOptions{})
			_, err := c.FetchByAddress(context.Background(), "a00001")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProviderUnavailable))
		})
	}
}

func TestOpenSkyTimeout(t *testing.T) {
	c := newOpenSky(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}, OpenSkyOptions{ClientOptions: ClientOptions{Timeout: 50 * time.Millisecond}})

	_, err := c.FetchByAddress(context.Background(), "a00001")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestParseStateToleratesShortAndNullRows(t *testing.T) {
	sv := parseState([]interface{}{"abc123", nil, "US", nil, 1740851999.0, nil, nil})
	assert.Equal(t, "abc123", sv.ICAO24)
	assert.Empty(t, sv.Callsign)
	assert.Nil(t, sv.Latitude)
	assert.Nil(t, sv.VelocityMS)
	assert.False(t, sv.OnGround)

	fallback := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Unix(1740851999, 0).UTC(), sv.Timestamp(fallback))
	assert.Equal(t, fallback, (&StateVector{}).Timestamp(fallback))
}

func TestOpenSkyOAuthTokenCached(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		w.Write([]byte(`{"access_token":"tok-1","expires_in":1800}`))
	}))
	defer tokenSrv.Close()

	c := newOpenSky(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(n728skState))
	}, OpenSkyOptions{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL})

	for i := 0; i < 3; i++ {
		_, err := c.FetchByAddress(context.Background(), "a9c2e5")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())

	// Expired tokens are refreshed
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := c.FetchByAddress(context.Background(), "a9c2e5")
	require.NoError(t, err)
	assert.Equal(t, int32(2), tokenCalls.Load())
}

func TestOpenSkyTokenFailureFallsBackToAnonymous(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tokenSrv.Close()

	c := newOpenSky(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(n728skState))
	}, OpenSkyOptions{ClientID: "id", ClientSecret: "bad", TokenURL: tokenSrv.URL})

	sv, err := c.FetchByAddress(context.Background(), "a9c2e5")
	require.NoError(t, err)
	assert.NotNil(t, sv)
}

func TestOpenSkyCredentialsFileToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"accessToken":"from-file"}`), 0o600))

	c := newOpenSky(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer from-file", r.Header.Get("Authorization"))
		w.Write([]byte(n728skState))
	}, OpenSkyOptions{CredentialsPath: path})

	_, err := c.FetchByAddress(context.Background(), "a9c2e5")
	require.NoError(t, err)
}
