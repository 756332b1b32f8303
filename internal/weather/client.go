// Package weather fetches current conditions from an OpenWeatherMap compatible API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m3rciful/formbot/core/buildinfo"
	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"
	"github.com/m3rciful/formbot/core/netutil"
)

// Report is the current weather for one city.
type Report struct {
	City     string  `json:"city"`
	TempC    float64 `json:"temp_c"`
	Humidity int     `json:"humidity"`
}

// Fetcher looks up the current weather for a city.
type Fetcher interface {
	Fetch(ctx context.Context, city string) (Report, error)
}

// Options configures NewClient.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one Fetch, default 5s.
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client calls the weather API over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	metrics *metrics.Metrics
}

// NewClient builds a Client. A nil HTTPClient gets the shared retrying client.
func NewClient(opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("weather: base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = netutil.BuildHTTPClient(netutil.ClientOptions{
			Timeout:         opts.Timeout,
			ResponseTimeout: opts.Timeout,
			Retries:         1,
			Backoff:         200 * time.Millisecond,
		})
	}
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		metrics: opts.Metrics,
	}, nil
}

type apiResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
}

// Fetch returns the current weather for city. Failures are always *Error.
func (c *Client) Fetch(ctx context.Context, city string) (Report, error) {
	city = strings.TrimSpace(city)
	start := time.Now()
	rep, err := c.fetch(ctx, city)

	result := "ok"
	var werr *Error
	if errors.As(err, &werr) {
		result = werr.Kind.String()
	}
	c.metrics.IncWeather(result)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("city", logger.SanitizeLimit(city, 64)),
		slog.String("result", result),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.ErrText(err)))
		logger.LogEvent(ctx, logger.SVCWeather, slog.LevelWarn, "weather.fetch", attrs...)
		return Report{}, err
	}
	logger.LogEvent(ctx, logger.SVCWeather, slog.LevelDebug, "weather.fetch", attrs...)
	return rep, nil
}

func (c *Client) fetch(ctx context.Context, city string) (Report, error) {
	if city == "" {
		return Report{}, &Error{Kind: KindNotFound, City: city}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	u := c.baseURL
	if strings.Contains(u, "?") {
		u += "&" + q.Encode()
	} else {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Report{}, &Error{Kind: KindUpstream, City: city, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Report{}, &Error{Kind: KindTimeout, City: city, Err: stripKey(err)}
		}
		return Report{}, &Error{Kind: KindUpstream, City: city, Err: stripKey(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Report{}, &Error{Kind: KindNotFound, City: city, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Report{}, &Error{Kind: KindUpstream, City: city, Status: resp.StatusCode}
	}

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		if isTimeout(ctx, err) {
			return Report{}, &Error{Kind: KindTimeout, City: city, Err: err}
		}
		return Report{}, &Error{Kind: KindMalformed, City: city, Status: resp.StatusCode, Err: err}
	}
	if body.Main == nil || body.Main.Temp == nil || body.Main.Humidity == nil {
		return Report{}, &Error{Kind: KindMalformed, City: city, Status: resp.StatusCode, Err: errors.New("missing main.temp or main.humidity")}
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = DisplayName(city)
	}
	return Report{
		City:     name,
		TempC:    *body.Main.Temp,
		Humidity: int(*body.Main.Humidity + 0.5),
	}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// stripKey drops the request URL from transport errors so the API key never reaches logs.
func stripKey(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
