package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"candlesync/pkg/market"
	"candlesync/pkg/retry"
)

func chartJSON(timestamps []int64, opens []string) string {
	ts := make([]string, len(timestamps))
	for i, t := range timestamps {
		ts[i] = fmt.Sprintf("%d", t)
	}
	return fmt.Sprintf(`{
  "chart": {
    "result": [{
      "meta": {"symbol": "TEST.NS", "exchangeTimezoneName": "Asia/Kolkata"},
      "timestamp": [%s],
      "indicators": {"quote": [{
        "open": [%[2]s], "high": [%[2]s], "low": [%[2]s], "close": [%[2]s], "volume": [%[2]s]
      }]}
    }],
    "error": null
  }
}`, strings.Join(ts, ","), strings.Join(opens, ","))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(
		WithBaseURL(server.URL),
		WithRetryPolicy(retry.Policy{
			MaxAttempts:      2,
			InitialBackoff:   time.Millisecond,
			RateLimitBackoff: time.Millisecond,
			IsRetryable:      market.IsRetryable,
			IsRateLimit:      market.IsRateLimit,
		}),
	)
	return client, server
}

func TestChartParsesBars(t *testing.T) {
	var gotPath, gotUA string
	var gotQuery map[string][]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query()
		fmt.Fprint(w, chartJSON([]int64{1756179900, 1756180200}, []string{"101.5", "102.25"}))
	})

	start := time.Unix(1756179900, 0)
	end := time.Unix(1756180200, 0)
	rows, err := client.Chart(context.Background(), "TEST.NS", "5m", start, end)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 101.5, rows[0].Open)
	require.Equal(t, int64(1756179900), rows[0].Datetime.Unix())

	require.Equal(t, "/TEST.NS", gotPath)
	require.Equal(t, "Mozilla/5.0", gotUA)
	require.Equal(t, []string{"5m"}, gotQuery["interval"])
	require.Equal(t, []string{"1756179900"}, gotQuery["period1"])
	require.Equal(t, []string{"1756180200"}, gotQuery["period2"])
}

func TestChartSkipsNullBars(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON([]int64{1756179900, 1756180200}, []string{"null", "102.25"}))
	})

	rows, err := client.Chart(context.Background(), "TEST.NS", "5m", time.Unix(0, 0), time.Now())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 102.25, rows[0].Open)
}

func TestChartRangeQuery(t *testing.T) {
	var gotQuery map[string][]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, chartJSON([]int64{1756179900}, []string{"100"}))
	})

	rows, err := client.ChartRange(context.Background(), "TEST.NS", "1d", "1d")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []string{"1d"}, gotQuery["range"])
	require.Empty(t, gotQuery["period1"])
}

func TestChartNotFoundStatus(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Chart(context.Background(), "NOPE.NS", "1d", time.Unix(0, 0), time.Now())
	require.ErrorIs(t, err, market.ErrSymbolNotFound)
	require.Equal(t, 1, calls, "not-found must not be retried")
}

func TestChartNotFoundAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}}}`)
	})

	_, err := client.Chart(context.Background(), "NOPE.NS", "1d", time.Unix(0, 0), time.Now())
	require.ErrorIs(t, err, market.ErrSymbolNotFound)
}

func TestChartRetriesServerError(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Chart(context.Background(), "TEST.NS", "5m", time.Unix(0, 0), time.Now())
	require.Error(t, err)
	var statusErr *market.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Status)
	require.Equal(t, 2, calls, "5xx should consume the attempt budget")
}

func TestChartRateLimitClassification(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Chart(context.Background(), "TEST.NS", "5m", time.Unix(0, 0), time.Now())
	require.Error(t, err)
	require.True(t, market.IsRateLimit(err))
}

func TestChartEmptyResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": [], "error": null}}`)
	})

	rows, err := client.Chart(context.Background(), "TEST.NS", "5m", time.Unix(0, 0), time.Now())
	require.NoError(t, err)
	require.Empty(t, rows)
}
