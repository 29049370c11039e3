package marketdata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRatePerSec  = 5
	defaultBurst       = 5
	defaultConcurrency = 5
	defaultTimeout     = 10 * time.Second

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config del cliente de cotizaciones.
type Config struct {
	BaseURL     string
	APIKey      string
	RatePerSec  float64
	Burst       int
	Concurrency int // fetches simultáneos dentro de un batch
	Timeout     time.Duration
}

// quoteResponse es el payload de GET /quote.
type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume"`
	AverageVolume float64 `json:"average_volume"`
	Timestamp     int64   `json:"timestamp"` // unix seconds, 0 = ahora
}

// Client es el HTTP client del proveedor de cotizaciones con rate limiting y retries.
type Client struct {
	http        *http.Client
	base        string
	apiKey      string
	limiter     *rate.Limiter
	concurrency int
	retryWait   time.Duration
}

var _ ports.MarketDataProvider = (*Client)(nil)

// NewClient crea un Client. BaseURL es obligatorio.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("marketdata.NewClient: empty base url")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		concurrency: cfg.Concurrency,
		retryWait:   baseRetryWait,
	}, nil
}

// FetchQuote pide la cotización actual de un ticker.
func (c *Client) FetchQuote(ctx context.Context, ticker string) (domain.Quote, error) {
	u := c.base + "/quote?symbol=" + url.QueryEscape(ticker)

	var resp quoteResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("marketdata.FetchQuote: %s: %w", ticker, err)
	}
	if resp.Price <= 0 || math.IsNaN(resp.Price) {
		return domain.Quote{}, fmt.Errorf("marketdata.FetchQuote: %s: invalid price %v", ticker, resp.Price)
	}

	at := time.Now()
	if resp.Timestamp > 0 {
		at = time.Unix(resp.Timestamp, 0)
	}
	return domain.Quote{
		Ticker:        ticker,
		Price:         resp.Price,
		ChangePercent: resp.ChangePercent,
		Volume:        resp.Volume,
		AverageVolume: resp.AverageVolume,
		At:            at,
	}, nil
}

// FetchQuotesBatch pide varios tickers en paralelo (acotado por Concurrency).
// Siempre devuelve una entrada por ticker; los fallos van en QuoteResult.Err.
func (c *Client) FetchQuotesBatch(ctx context.Context, tickers []string) map[string]ports.QuoteResult {
	results := make([]ports.QuoteResult, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, t := range tickers {
		g.Go(func() error {
			q, err := c.FetchQuote(gctx, t)
			results[i] = ports.QuoteResult{Quote: q, Err: err}
			return nil // un ticker que falla no cancela al resto
		})
	}
	_ = g.Wait()

	out := make(map[string]ports.QuoteResult, len(tickers))
	for i, t := range tickers {
		out[t] = results[i]
	}
	return out
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429 y 5xx se reintentan; el resto de 4xx no.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by market data API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d attempts", resp.StatusCode, attempt+1)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
