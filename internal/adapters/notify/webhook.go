package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/posmon/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultWebhookField   = "text"
	defaultWebhookRate    = 1.0 // mensajes/segundo
	defaultWebhookTimeout = 10 * time.Second
)

// WebhookConfig configura el envío a un webhook de chat.
// Field es la clave del payload: "text" (Slack, Mattermost) o "content" (Discord).
type WebhookConfig struct {
	URL        string
	Field      string
	RatePerSec float64
	Timeout    time.Duration
}

// Webhook implementa ports.NotificationSink enviando un POST JSON por mensaje.
type Webhook struct {
	url     string
	field   string
	http    *http.Client
	limiter *rate.Limiter
}

var _ ports.NotificationSink = (*Webhook)(nil)

// NewWebhook crea el notificador. URL es obligatoria.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify.NewWebhook: empty url")
	}
	if cfg.Field == "" {
		cfg.Field = defaultWebhookField
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultWebhookRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	return &Webhook{
		url:     cfg.URL,
		field:   cfg.Field,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 3),
	}, nil
}

// Notify envía el mensaje. Un status >= 400 es error; no hay reintentos.
func (w *Webhook) Notify(ctx context.Context, message string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify.Webhook: rate limiter: %w", err)
	}

	body, err := json.Marshal(map[string]string{w.field: message})
	if err != nil {
		return fmt.Errorf("notify.Webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify.Webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify.Webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify.Webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
