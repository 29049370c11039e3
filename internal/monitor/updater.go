package monitor

// updater.go: una pasada completa de evaluación de posiciones abiertas.
//
// Todo el estado derivado sale del status persistido más precios frescos:
// re-ejecutar tras un crash es seguro y no hay acumulación oculta en memoria.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

const (
	defaultBatchSize  = 5
	defaultBatchDelay = 300 * time.Millisecond
)

var errNoQuote = errors.New("no quote returned")

// UpdaterConfig controla el fetch por batches y las reglas de estado.
type UpdaterConfig struct {
	Rules      StatusRules
	BatchSize  int           // tickers por batch
	BatchDelay time.Duration // pausa entre batches (rate limit upstream)
}

// DefaultUpdaterConfig devuelve una configuración sensata para producción.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		Rules:      DefaultStatusRules(),
		BatchSize:  defaultBatchSize,
		BatchDelay: defaultBatchDelay,
	}
}

// TickerError es un fallo aislado de un ticker o de una posición.
// PositionID es 0 cuando el fallo fue del fetch de precio.
type TickerError struct {
	Ticker     string
	PositionID int64
	Err        error
}

func (e TickerError) Error() string {
	if e.PositionID != 0 {
		return fmt.Sprintf("%s (position %d): %v", e.Ticker, e.PositionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Ticker, e.Err)
}

func (e TickerError) Unwrap() error { return e.Err }

// UpdateResult es el resumen de una pasada.
type UpdateResult struct {
	Checked     int // posiciones con precio resuelto evaluadas por el motor
	Updated     int // transiciones persistidas
	Transitions []domain.StatusTransition
	Errors      []TickerError
	Prices      map[string]float64
	Quotes      map[string]domain.Quote
	Tracked     []domain.TrackedPosition
}

// PositionUpdater carga el open set, resuelve precios y aplica el motor de estados.
type PositionUpdater struct {
	cfg    UpdaterConfig
	store  ports.PositionStore
	market ports.MarketDataProvider
	now    func() time.Time
}

// NewPositionUpdater crea un updater. now puede ser nil (usa time.Now).
func NewPositionUpdater(cfg UpdaterConfig, store ports.PositionStore, market ports.MarketDataProvider, now func() time.Time) *PositionUpdater {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if now == nil {
		now = time.Now
	}
	return &PositionUpdater{cfg: cfg, store: store, market: market, now: now}
}

// Update ejecuta una pasada. Solo falla entera si no se puede leer el open set;
// los fallos por ticker o de persistencia van a UpdateResult.Errors.
func (u *PositionUpdater) Update(ctx context.Context) (*UpdateResult, error) {
	positions, err := u.store.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor.Update: list open positions: %w", err)
	}

	result := &UpdateResult{
		Prices: make(map[string]float64),
		Quotes: make(map[string]domain.Quote),
	}
	if len(positions) == 0 {
		return result, nil
	}

	tickers := uniqueTickers(positions)
	quotes, fetchErrs := u.fetchQuotes(ctx, tickers)
	result.Errors = append(result.Errors, fetchErrs...)
	for t, q := range quotes {
		result.Quotes[t] = q
		result.Prices[t] = q.Price
	}

	now := u.now()
	for _, p := range positions {
		q, ok := quotes[p.Ticker]
		if !ok {
			continue // sin precio este tick; el siguiente reintenta
		}
		result.Checked++

		tr, err := u.evaluate(ctx, &p, q.Price, now)
		if err != nil {
			persistenceErrorsTotal.Inc()
			slog.Error("failed to persist status transition",
				"position_id", p.ID,
				"ticker", p.Ticker,
				"err", err,
			)
			result.Errors = append(result.Errors, TickerError{Ticker: p.Ticker, PositionID: p.ID, Err: err})
		} else if tr != nil {
			result.Updated++
			result.Transitions = append(result.Transitions, *tr)
			transitionsTotal.WithLabelValues(string(tr.To)).Inc()
		}

		result.Tracked = append(result.Tracked, domain.Track(p, q.Price, now))
	}

	slog.Debug("position update complete",
		"open", len(positions),
		"tickers", len(tickers),
		"checked", result.Checked,
		"updated", result.Updated,
		"errors", len(result.Errors),
	)
	return result, nil
}

// evaluate corre el motor sobre p y persiste la transición si la hay.
// En éxito, p queda reflejando el nuevo estado.
func (u *PositionUpdater) evaluate(ctx context.Context, p *domain.Position, price float64, now time.Time) (*domain.StatusTransition, error) {
	decision, fired := EvaluateStatus(u.cfg.Rules, StatusInput{
		Status:      p.Status,
		OrderKind:   p.OrderKind,
		EntryPrice:  p.EntryPrice,
		StopLoss:    p.StopLoss,
		TargetPrice: p.TargetPrice,
		MaxHoldDays: p.MaxHoldDays,
		DaysActive:  p.DaysActive(now),
		Price:       price,
	})
	if !fired {
		return nil, nil
	}
	if !domain.CanTransition(p.Status, decision.To) {
		return nil, fmt.Errorf("invalid transition %s -> %s", p.Status, decision.To)
	}

	upd := domain.StatusUpdate{ID: p.ID, From: p.Status, To: decision.To, At: now}
	if decision.To.IsTerminal() && reachedEntry(*p) {
		exit := price
		pnl := domain.ProfitLossPct(p.EntryPrice, price)
		upd.ExitPrice = &exit
		upd.ProfitLossPct = &pnl
	}

	if err := u.store.UpdateStatus(ctx, upd); err != nil {
		return nil, fmt.Errorf("update status %s -> %s: %w", p.Status, decision.To, err)
	}

	tr := &domain.StatusTransition{
		ID:            uuid.NewString(),
		PositionID:    p.ID,
		Ticker:        p.Ticker,
		From:          p.Status,
		To:            decision.To,
		Price:         price,
		Reason:        decision.Reason,
		At:            now,
		ExitPrice:     upd.ExitPrice,
		ProfitLossPct: upd.ProfitLossPct,
	}
	applyUpdate(p, upd)
	return tr, nil
}

// reachedEntry: solo hay P&L realizado si la posición llegó a entry_hit.
func reachedEntry(p domain.Position) bool {
	return p.Status == domain.StatusEntryHit || p.EntryHitAt != nil
}

func applyUpdate(p *domain.Position, upd domain.StatusUpdate) {
	p.Status = upd.To
	at := upd.At
	if upd.To == domain.StatusEntryHit && p.EntryHitAt == nil {
		p.EntryHitAt = &at
	}
	if upd.To.IsTerminal() {
		p.ExitAt = &at
		p.ExitPrice = upd.ExitPrice
		p.ProfitLossPct = upd.ProfitLossPct
	}
}

// fetchQuotes pide los precios en batches de BatchSize con una pausa entre
// batches. Un ticker que falla queda registrado y no aborta el resto.
func (u *PositionUpdater) fetchQuotes(ctx context.Context, tickers []string) (map[string]domain.Quote, []TickerError) {
	quotes := make(map[string]domain.Quote, len(tickers))
	var errs []TickerError

	for i, batch := range splitBatches(tickers, u.cfg.BatchSize) {
		if i > 0 && !pause(ctx, u.cfg.BatchDelay) {
			for _, t := range batch {
				errs = append(errs, TickerError{Ticker: t, Err: ctx.Err()})
			}
			continue
		}

		results := u.market.FetchQuotesBatch(ctx, batch)
		for _, t := range batch {
			r, ok := results[t]
			switch {
			case !ok:
				errs = append(errs, TickerError{Ticker: t, Err: errNoQuote})
			case r.Err != nil:
				errs = append(errs, TickerError{Ticker: t, Err: r.Err})
			case r.Quote.Price <= 0:
				errs = append(errs, TickerError{Ticker: t, Err: fmt.Errorf("invalid price %v", r.Quote.Price)})
			default:
				q := r.Quote
				q.Ticker = t
				quotes[t] = q
				continue
			}
			quoteErrorsTotal.Inc()
			slog.Warn("quote fetch failed, skipping ticker this tick",
				"ticker", t,
				"err", errs[len(errs)-1].Err,
			)
		}
	}
	return quotes, errs
}

func uniqueTickers(positions []domain.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	tickers := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Ticker]; ok {
			continue
		}
		seen[p.Ticker] = struct{}{}
		tickers = append(tickers, p.Ticker)
	}
	sort.Strings(tickers)
	return tickers
}

// splitBatches divide tickers en slices de tamaño máximo size.
func splitBatches(tickers []string, size int) [][]string {
	if size <= 0 {
		size = defaultBatchSize
	}
	batches := make([][]string, 0, (len(tickers)+size-1)/size)
	for i := 0; i < len(tickers); i += size {
		end := min(i+size, len(tickers))
		batches = append(batches, tickers[i:end])
	}
	return batches
}

// pause espera d respetando el contexto. Devuelve false si se canceló.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
