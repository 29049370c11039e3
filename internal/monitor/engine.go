package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

// Config agrupa los parámetros del engine.
type Config struct {
	Updater        UpdaterConfig
	CooldownWindow time.Duration
	Narrative      BestEffortConfig
	Now            func() time.Time // nil = time.Now
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		Updater:        DefaultUpdaterConfig(),
		CooldownWindow: defaultCooldownWindow,
		Narrative:      DefaultBestEffortConfig(),
	}
}

// Deps son los colaboradores externos. Notifier, Broadcaster y Narrative son opcionales.
type Deps struct {
	Store       ports.PositionStore
	Market      ports.MarketDataProvider
	Thresholds  ports.ThresholdSource
	Notifier    ports.NotificationSink
	Broadcaster ports.BroadcastSink
	Narrative   ports.NarrativeEnricher
}

// Engine es el estado de monitorización de larga vida: cooldowns, última
// lista de posiciones trackeadas y el updater. Lo comparten el Loop y los
// accesores de lectura; no hay estado global.
type Engine struct {
	cfg      Config
	deps     Deps
	updater  *PositionUpdater
	cooldown *CooldownRegistry
	now      func() time.Time

	mu         sync.RWMutex
	tracked    []domain.TrackedPosition
	lastTickAt time.Time
}

// NewEngine crea un Engine con todas las dependencias inyectadas.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		updater:  NewPositionUpdater(cfg.Updater, deps.Store, deps.Market, cfg.Now),
		cooldown: NewCooldownRegistry(cfg.CooldownWindow),
		now:      cfg.Now,
	}
}

// RunTick ejecuta un tick de mercado abierto: update → broadcast de precios →
// transiciones → escaneo de anomalías. No decide horario de mercado.
func (e *Engine) RunTick(ctx context.Context) (*UpdateResult, error) {
	res, err := e.updater.Update(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.tracked = res.Tracked
	e.lastTickAt = e.now()
	e.mu.Unlock()

	if len(res.Prices) > 0 {
		e.publish(domain.EventPrices, res.Prices)
	}

	for _, tr := range res.Transitions {
		e.publish(domain.EventTransition, tr)
		e.notify(ctx, formatTransition(tr))
	}

	e.scanAnomalies(ctx, res.Quotes)
	return res, nil
}

// scanAnomalies pasa cada quote resuelta por el cooldown y el detector.
// El cooldown se marca antes de cualquier I/O de notificación.
func (e *Engine) scanAnomalies(ctx context.Context, quotes map[string]domain.Quote) {
	if e.deps.Thresholds == nil || len(quotes) == 0 {
		return
	}

	tickers := make([]string, 0, len(quotes))
	for t := range quotes {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		now := e.now()
		if e.cooldown.Suppressed(ticker, now) {
			continue
		}

		q := quotes[ticker]
		events := DetectAnomalies(q, e.deps.Thresholds.AnomalyThresholds(), now)
		if len(events) == 0 {
			continue
		}
		e.cooldown.Mark(ticker, now)

		for _, ev := range events {
			ev.Narrative = e.explain(ctx, ev, q)
			anomaliesTotal.WithLabelValues(string(ev.Kind)).Inc()
			slog.Info("anomaly detected",
				"ticker", ev.Ticker,
				"kind", ev.Kind,
				"value", ev.Value,
				"threshold", ev.Threshold,
			)
			e.notify(ctx, formatAnomaly(ev))
			e.publish(domain.EventAnomaly, ev)
		}
	}
}

// explain pide la narrativa con timeout y reintentos; "" si falla.
func (e *Engine) explain(ctx context.Context, ev domain.AnomalyEvent, q domain.Quote) string {
	if e.deps.Narrative == nil {
		return ""
	}
	text, err := BestEffort(ctx, e.cfg.Narrative, "", func(ctx context.Context) (string, error) {
		return e.deps.Narrative.Explain(ctx, ev.Ticker, ev, q)
	})
	if err != nil {
		notificationsFailedTotal.WithLabelValues("narrative").Inc()
		slog.Warn("narrative enrichment failed", "ticker", ev.Ticker, "err", err)
	}
	return text
}

// notify es best-effort: un fallo (o panic) del sink nunca corta el tick.
func (e *Engine) notify(ctx context.Context, msg string) {
	if e.deps.Notifier == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panic: %v", r)
			}
		}()
		return e.deps.Notifier.Notify(ctx, msg)
	}()
	if err != nil {
		notificationsFailedTotal.WithLabelValues("notify").Inc()
		slog.Warn("notification failed", "err", err)
	}
}

func (e *Engine) publish(t domain.EventType, data any) {
	if e.deps.Broadcaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("broadcast panic", "type", t, "panic", r)
		}
	}()
	e.deps.Broadcaster.Publish(domain.Event{Type: t, At: e.now(), Data: data})
}

// Tracked devuelve una copia de la última lista de posiciones trackeadas.
func (e *Engine) Tracked() []domain.TrackedPosition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.TrackedPosition, len(e.tracked))
	copy(out, e.tracked)
	return out
}

// LastTickAt devuelve cuándo terminó el último tick con datos.
func (e *Engine) LastTickAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTickAt
}

// Reset descarta el estado en memoria (cooldowns y última lista trackeada).
// El estado de las posiciones vive en el store y no se toca.
func (e *Engine) Reset() {
	e.cooldown.Reset()
	e.mu.Lock()
	e.tracked = nil
	e.lastTickAt = time.Time{}
	e.mu.Unlock()
}
