package narrative

// client.go: enriquecedor de anomalías vía un servicio HTTP externo (LLM).
//
// Sin reintentos propios: el engine envuelve cada llamada con timeout,
// reintentos y fallback a "".

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTimeout  = 4 * time.Second
	defaultMaxChars = 400
)

// Config del cliente de narrativas.
type Config struct {
	URL      string
	APIKey   string
	Timeout  time.Duration // por request
	MaxChars int           // la respuesta se recorta a este largo
}

type explainRequest struct {
	Ticker        string             `json:"ticker"`
	Kind          domain.AnomalyKind `json:"kind"`
	Value         float64            `json:"value"`
	Threshold     float64            `json:"threshold"`
	Message       string             `json:"message"`
	Price         float64            `json:"price"`
	ChangePercent float64            `json:"change_percent"`
	Volume        float64            `json:"volume"`
	AverageVolume float64            `json:"average_volume"`
}

type explainResponse struct {
	Narrative string `json:"narrative"`
}

// Client implementa ports.NarrativeEnricher.
type Client struct {
	url      string
	apiKey   string
	maxChars int
	http     *http.Client
}

var _ ports.NarrativeEnricher = (*Client)(nil)

// NewClient crea el cliente. URL es obligatoria.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("narrative.NewClient: empty url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	return &Client{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		maxChars: cfg.MaxChars,
		http:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Explain pide una explicación corta de la anomalía.
func (c *Client) Explain(ctx context.Context, ticker string, anomaly domain.AnomalyEvent, quote domain.Quote) (string, error) {
	body, err := json.Marshal(explainRequest{
		Ticker:        ticker,
		Kind:          anomaly.Kind,
		Value:         anomaly.Value,
		Threshold:     anomaly.Threshold,
		Message:       anomaly.Message,
		Price:         quote.Price,
		ChangePercent: quote.ChangePercent,
		Volume:        quote.Volume,
		AverageVolume: quote.AverageVolume,
	})
	if err != nil {
		return "", fmt.Errorf("narrative.Explain: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("narrative.Explain: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrative.Explain: %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("narrative.Explain: %s: status %d: %s", ticker, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out explainResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("narrative.Explain: decode: %w", err)
	}
	return clip(strings.TrimSpace(out.Narrative), c.maxChars), nil
}

// clip recorta s a n runas, terminando en "…" si se cortó.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
