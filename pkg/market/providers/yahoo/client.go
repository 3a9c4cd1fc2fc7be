package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"candlesync/pkg/market"
	"candlesync/pkg/retry"
)

const (
	defaultBaseURL     = "https://query1.finance.yahoo.com/v8/finance/chart"
	defaultHTTPTimeout = 10 * time.Second
	defaultMaxRetries  = 3

	// The chart endpoint rejects requests without a browser-ish UA.
	userAgent = "Mozilla/5.0"
)

// Client wraps access to the chart endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default chart endpoint URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = retry.New(p)
	}
}

// NewClient constructs a chart API client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		policy: retry.New(retry.Policy{
			MaxAttempts: defaultMaxRetries,
			IsRetryable: market.IsRetryable,
			IsRateLimit: market.IsRateLimit,
		}),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Chart fetches candles for an explicit [start, end] window.
func (c *Client) Chart(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Candle, error) {
	query := url.Values{}
	query.Set("interval", interval)
	query.Set("period1", strconv.FormatInt(start.Unix(), 10))
	query.Set("period2", strconv.FormatInt(end.Unix(), 10))
	return c.chart(ctx, symbol, query)
}

// ChartRange fetches candles for a relative lookback range such as "1d" or
// "1mo". The range counts trading days, which makes it the right existence
// probe: "1d" returns the latest session even over a weekend.
func (c *Client) ChartRange(ctx context.Context, symbol, interval, rng string) ([]market.Candle, error) {
	query := url.Values{}
	query.Set("interval", interval)
	query.Set("range", rng)
	return c.chart(ctx, symbol, query)
}

func (c *Client) chart(ctx context.Context, symbol string, query url.Values) ([]market.Candle, error) {
	requestURL := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(symbol), query.Encode())

	var rows []market.Candle
	err := c.policy.Do(ctx, func() error {
		var attemptErr error
		rows, attemptErr = c.doChart(ctx, requestURL)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) doChart(ctx context.Context, requestURL string) ([]market.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yahoo: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("yahoo: %w", market.ErrSymbolNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &market.StatusError{Status: resp.StatusCode, Body: truncate(body, 200)}
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo: decode response: %w", err)
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("yahoo: %s: %w", chart.Chart.Error.Description, market.ErrSymbolNotFound)
		}
		return nil, fmt.Errorf("yahoo: api error %s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := result.Indicators.Quote[0]
	rows := make([]market.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		open := deref(quote.Open, i)
		high := deref(quote.High, i)
		low := deref(quote.Low, i)
		closePx := deref(quote.Close, i)
		if open == 0 && high == 0 && low == 0 && closePx == 0 {
			// Null bar (holiday, halt); nothing to persist.
			continue
		}
		rows = append(rows, market.Candle{
			Datetime: time.Unix(ts, 0).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePx,
			Volume:   deref(quote.Volume, i),
		})
	}
	return rows, nil
}

func deref(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
