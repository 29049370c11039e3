package marketdata_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/posmon/internal/adapters/marketdata"
)

func newClient(t *testing.T, srv *httptest.Server) *marketdata.Client {
	t.Helper()
	c, err := marketdata.NewClient(marketdata.Config{BaseURL: srv.URL, RatePerSec: 1000, Burst: 100, APIKey: "secret"})
	require.NoError(t, err)
	c.SetRetryWait(time.Millisecond)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := marketdata.NewClient(marketdata.Config{})
	assert.Error(t, err)
}

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "BBCA", r.URL.Query().Get("symbol"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"symbol":"BBCA","price":9125,"change_percent":-1.35,"volume":5200000,"average_volume":4100000,"timestamp":1773136800}`)
	}))
	defer srv.Close()

	q, err := newClient(t, srv).FetchQuote(context.Background(), "BBCA")
	require.NoError(t, err)
	assert.Equal(t, "BBCA", q.Ticker)
	assert.InDelta(t, 9125, q.Price, 1e-9)
	assert.InDelta(t, -1.35, q.ChangePercent, 1e-9)
	assert.InDelta(t, 5_200_000, q.Volume, 1e-9)
	assert.InDelta(t, 4_100_000, q.AverageVolume, 1e-9)
	assert.Equal(t, int64(1773136800), q.At.Unix())
}

func TestFetchQuote_InvalidPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"symbol":"BBCA","price":0}`)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).FetchQuote(context.Background(), "BBCA")
	assert.ErrorContains(t, err, "invalid price")
}

func TestFetchQuote_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"symbol":"TLKM","price":3050}`)
	}))
	defer srv.Close()

	q, err := newClient(t, srv).FetchQuote(context.Background(), "TLKM")
	require.NoError(t, err)
	assert.InDelta(t, 3050, q.Price, 1e-9)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchQuote_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).FetchQuote(context.Background(), "XXXX")
	assert.ErrorContains(t, err, "client error 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchQuote_ServerErrorExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).FetchQuote(context.Background(), "BBCA")
	assert.ErrorContains(t, err, "server error 500")
}

func TestFetchQuotesBatch_PartialFailure(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		mu.Lock()
		seen[sym]++
		mu.Unlock()
		if sym == "BAD" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"symbol":%q,"price":1000}`, sym)
	}))
	defer srv.Close()

	res := newClient(t, srv).FetchQuotesBatch(context.Background(), []string{"BBCA", "BAD", "BBRI", "BMRI"})
	require.Len(t, res, 4)
	assert.Error(t, res["BAD"].Err)
	for _, sym := range []string{"BBCA", "BBRI", "BMRI"} {
		require.NoError(t, res[sym].Err, sym)
		assert.Equal(t, sym, res[sym].Quote.Ticker)
		assert.InDelta(t, 1000, res[sym].Quote.Price, 1e-9)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["BBCA"])
}

func TestFetchQuotesBatch_Empty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	assert.Empty(t, newClient(t, srv).FetchQuotesBatch(context.Background(), nil))
}
