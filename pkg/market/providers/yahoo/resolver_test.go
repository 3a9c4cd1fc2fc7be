package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"candlesync/pkg/market"
)

// probeServer answers existence probes: symbols in known get one daily bar,
// everything else gets 404.
func probeServer(t *testing.T, known map[string]bool) (*Provider, *[]string) {
	t.Helper()
	var probed []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Path[1:]
		probed = append(probed, symbol)
		if !known[symbol] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, chartJSON([]int64{1756179900}, []string{"100"}))
	}))
	t.Cleanup(server.Close)

	provider := NewProvider(market.DefaultClock(),
		WithClientOptions(WithBaseURL(server.URL)),
		WithProbeSpacing(0),
	)
	return provider, &probed
}

func TestResolveIndexAlias(t *testing.T) {
	provider, probed := probeServer(t, nil)

	for input, want := range map[string]string{
		"NSEI":    "^NSEI",
		"nsei":    "^NSEI",
		"BSESN":   "^BSESN",
		"NSEBANK": "^NSEBANK",
	} {
		got, err := provider.Resolve(context.Background(), input)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Empty(t, *probed, "index aliases must resolve without probing")
}

func TestResolveQualifiedPassthrough(t *testing.T) {
	provider, probed := probeServer(t, nil)

	for _, symbol := range []string{"RELIANCE.NS", "TATASTEEL.BO", "^GSPC"} {
		got, err := provider.Resolve(context.Background(), symbol)
		require.NoError(t, err)
		require.Equal(t, symbol, got)
	}
	require.Empty(t, *probed)
}

func TestResolveTrustedTicker(t *testing.T) {
	provider, probed := probeServer(t, nil)

	got, err := provider.Resolve(context.Background(), "tcs")
	require.NoError(t, err)
	require.Equal(t, "TCS.NS", got)
	require.Empty(t, *probed, "trusted tickers must skip the probe")
}

func TestResolveProbesInOrder(t *testing.T) {
	provider, probed := probeServer(t, map[string]bool{"ZOMATO.NS": true})

	got, err := provider.Resolve(context.Background(), "ZOMATO")
	require.NoError(t, err)
	require.Equal(t, "ZOMATO.NS", got)
	require.Equal(t, []string{"ZOMATO.NS"}, *probed, "first hit must short-circuit")
}

func TestResolveFallsBackThroughCandidates(t *testing.T) {
	provider, probed := probeServer(t, map[string]bool{"SOMESTOCK.BO": true})

	got, err := provider.Resolve(context.Background(), "SOMESTOCK")
	require.NoError(t, err)
	require.Equal(t, "SOMESTOCK.BO", got)
	require.Equal(t, []string{"SOMESTOCK.NS", "SOMESTOCK.BO"}, *probed)
}

func TestResolveRawInternationalForm(t *testing.T) {
	provider, probed := probeServer(t, map[string]bool{"AAPL": true})

	got, err := provider.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL", got)
	require.Equal(t, []string{"AAPL.NS", "AAPL.BO", "AAPL"}, *probed)
}

func TestResolveNotFound(t *testing.T) {
	provider, probed := probeServer(t, nil)

	_, err := provider.Resolve(context.Background(), "NOSUCH")
	require.ErrorIs(t, err, market.ErrSymbolNotFound)
	require.Contains(t, err.Error(), "NOSUCH.NS")
	require.Len(t, *probed, 3, "every candidate must be tried before giving up")
}

func TestResolveEmptySymbol(t *testing.T) {
	provider, probed := probeServer(t, nil)

	_, err := provider.Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, market.ErrSymbolNotFound)
	require.Empty(t, *probed)
}
