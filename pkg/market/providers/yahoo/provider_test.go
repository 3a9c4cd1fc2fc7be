package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"candlesync/pkg/market"
)

type chartCall struct {
	symbol  string
	period1 int64
	period2 int64
}

func dataServer(t *testing.T, timestamps []int64) (*httptest.Server, *[]chartCall) {
	t.Helper()
	var calls []chartCall
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p1, _ := strconv.ParseInt(r.URL.Query().Get("period1"), 10, 64)
		p2, _ := strconv.ParseInt(r.URL.Query().Get("period2"), 10, 64)
		calls = append(calls, chartCall{symbol: r.URL.Path[1:], period1: p1, period2: p2})
		prices := make([]string, len(timestamps))
		for i := range prices {
			prices[i] = fmt.Sprintf("%d", 100+i)
		}
		fmt.Fprint(w, chartJSON(timestamps, prices))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

// sessionTime is a Wednesday 11:00 IST, inside the default trading session.
func sessionTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 8, 26, 11, 0, 0, 0, mustIST(t))
}

func mustIST(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestFetchSkipsIntradayWhenClosed(t *testing.T) {
	server, calls := dataServer(t, []int64{1756179900})
	saturday := time.Date(2026, 8, 29, 11, 0, 0, 0, mustIST(t))

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithNowFunc(func() time.Time { return saturday }),
	)

	rows, err := provider.Fetch(context.Background(), "TCS", market.Intraday, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Empty(t, *calls, "closed market must not reach the network")
}

func TestFetchDailyRunsWhenClosed(t *testing.T) {
	server, calls := dataServer(t, []int64{1756179900})
	saturday := time.Date(2026, 8, 29, 11, 0, 0, 0, mustIST(t))

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithNowFunc(func() time.Time { return saturday }),
	)

	rows, err := provider.Fetch(context.Background(), "TCS", market.Daily, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, *calls, 1)
}

func TestFetchThrottlesPerPair(t *testing.T) {
	server, calls := dataServer(t, []int64{1756179900})
	now := sessionTime(t)

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithNowFunc(func() time.Time { return now }),
		WithThrottle(market.Intraday, time.Hour),
		WithThrottle(market.Daily, time.Hour),
	)

	_, err := provider.Fetch(context.Background(), "TCS", market.Intraday, nil)
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	_, err = provider.Fetch(context.Background(), "TCS", market.Intraday, nil)
	require.ErrorIs(t, err, market.ErrThrottled)
	require.Len(t, *calls, 1, "throttled fetch must not reach the network")

	// The throttle is scoped to the pair: the same symbol at another
	// granularity and another symbol both pass.
	_, err = provider.Fetch(context.Background(), "TCS", market.Daily, nil)
	require.NoError(t, err)
	_, err = provider.Fetch(context.Background(), "INFY", market.Intraday, nil)
	require.NoError(t, err)
	require.Len(t, *calls, 3)
}

func TestFetchBootstrapWindows(t *testing.T) {
	server, calls := dataServer(t, []int64{1756179900})
	now := sessionTime(t)

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithNowFunc(func() time.Time { return now }),
		WithBootstrapWindows(45*time.Minute, 60),
	)

	_, err := provider.Fetch(context.Background(), "TCS", market.Intraday, nil)
	require.NoError(t, err)
	require.Equal(t, now.Add(-45*time.Minute).Unix(), (*calls)[0].period1)
	require.Equal(t, now.Unix(), (*calls)[0].period2)

	_, err = provider.Fetch(context.Background(), "TCS", market.Daily, nil)
	require.NoError(t, err)
	require.Equal(t, now.AddDate(0, 0, -60).Unix(), (*calls)[1].period1)
}

func TestFetchWatermarkWindowAndFilter(t *testing.T) {
	now := sessionTime(t)
	watermark := now.Add(-15 * time.Minute)
	server, calls := dataServer(t, []int64{watermark.Unix(), watermark.Add(5 * time.Minute).Unix()})

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithNowFunc(func() time.Time { return now }),
	)

	rows, err := provider.Fetch(context.Background(), "TCS", market.Intraday, &watermark)
	require.NoError(t, err)
	require.Equal(t, watermark.Unix(), (*calls)[0].period1, "window must start at the watermark")

	// The watermark bar itself comes back from the upstream but is already
	// persisted; only the newer bar survives.
	require.Len(t, rows, 1)
	require.Equal(t, watermark.Add(5*time.Minute).Unix(), rows[0].Datetime.Unix())
	require.Equal(t, mustIST(t).String(), rows[0].Datetime.Location().String())
}

func TestFetchResolvesBeforeFetching(t *testing.T) {
	server, calls := dataServer(t, []int64{1756179900})
	now := sessionTime(t)

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithNowFunc(func() time.Time { return now }),
	)

	_, err := provider.Fetch(context.Background(), "NSEI", market.Intraday, nil)
	require.NoError(t, err)
	require.Equal(t, "^NSEI", (*calls)[0].symbol)
}

func TestFetchRejectsUnknownGranularity(t *testing.T) {
	provider := NewProvider(market.DefaultClock())
	_, err := provider.Fetch(context.Background(), "TCS", market.Granularity("1H"), nil)
	require.Error(t, err)
}
