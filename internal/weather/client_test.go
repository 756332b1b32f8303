package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		BaseURL:    srv.URL + "/data/2.5/weather",
		APIKey:     "secret",
		Timeout:    timeout,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var werr *Error
	require.True(t, errors.As(err, &werr), "want *weather.Error, got %v", err)
	return werr.Kind
}

func TestFetchOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		assert.Equal(t, "Paris", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		_, _ = w.Write([]byte(`{"name":"Paris","main":{"temp":21.4,"humidity":63}}`))
	}, time.Second)

	rep, err := c.Fetch(context.Background(), " Paris ")
	require.NoError(t, err)
	assert.Equal(t, Report{City: "Paris", TempC: 21.4, Humidity: 63}, rep)
}

func TestFetchMissingNameUsesInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"main":{"temp":-3,"humidity":80}}`))
	}, time.Second)

	rep, err := c.Fetch(context.Background(), "new york")
	require.NoError(t, err)
	assert.Equal(t, "New York", rep.City)
}

func TestFetchErrorKinds(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		kind      Kind
		retryable bool
	}{
		{"not found", http.StatusNotFound, `{"cod":"404"}`, KindNotFound, true},
		{"bad request", http.StatusBadRequest, `{}`, KindNotFound, true},
		{"server error", http.StatusBadGateway, ``, KindUpstream, false},
		{"unauthorized", http.StatusUnauthorized, `{}`, KindUpstream, false},
		{"bad json", http.StatusOK, `{"main":`, KindMalformed, true},
		{"missing fields", http.StatusOK, `{"name":"X","main":{"temp":1}}`, KindMalformed, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, time.Second)
			_, err := c.Fetch(context.Background(), "Atlantis")
			require.Error(t, err)
			assert.Equal(t, tc.kind, kindOf(t, err))

			var werr *Error
			require.ErrorAs(t, err, &werr)
			assert.Equal(t, tc.retryable, werr.Retryable())
			assert.Equal(t, "weather_"+tc.kind.String(), werr.Code())
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := c.Fetch(context.Background(), "Paris")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, kindOf(t, err))
	assert.NotContains(t, err.Error(), "secret")
}

func TestFetchEmptyCity(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	}, time.Second)
	_, err := c.Fetch(context.Background(), "  ")
	assert.Equal(t, KindNotFound, kindOf(t, err))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "::"})
	assert.Error(t, err)
}
