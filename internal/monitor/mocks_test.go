package monitor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/monitor"
	"github.com/alejandrodnm/posmon/internal/ports"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	positions []domain.Position
	listErr   error
	listPanic bool
	updateErr map[int64]error
	updates   []domain.StatusUpdate
	listCalls int

	afterUpdate func() // se llama tras cada update persistido, sin el lock
}

func (m *mockStore) ListOpenPositions(_ context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listPanic && m.listCalls == 1 {
		panic("boom")
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	var open []domain.Position
	for _, p := range m.positions {
		if p.Status.IsOpen() {
			open = append(open, p)
		}
	}
	return open, nil
}

func (m *mockStore) UpdateStatus(_ context.Context, upd domain.StatusUpdate) error {
	if err := m.updateStatus(upd); err != nil {
		return err
	}
	if m.afterUpdate != nil {
		m.afterUpdate()
	}
	return nil
}

func (m *mockStore) updateStatus(upd domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[upd.ID]; err != nil {
		return err
	}
	for i := range m.positions {
		p := &m.positions[i]
		if p.ID != upd.ID {
			continue
		}
		if p.Status != upd.From {
			return errors.New("stale status")
		}
		p.Status = upd.To
		at := upd.At
		if upd.To == domain.StatusEntryHit {
			p.EntryHitAt = &at
		}
		if upd.To.IsTerminal() {
			p.ExitAt = &at
			p.ExitPrice = upd.ExitPrice
			p.ProfitLossPct = upd.ProfitLossPct
		}
	}
	m.updates = append(m.updates, upd)
	return nil
}

func (m *mockStore) Updates() []domain.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StatusUpdate(nil), m.updates...)
}

func (m *mockStore) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

type mockMarket struct {
	mu      sync.Mutex
	quotes  map[string]domain.Quote
	errs    map[string]error
	batches [][]string
	started chan struct{} // se cierra en la primera llamada si no es nil
	block   chan struct{} // si no es nil, cada llamada espera a que se cierre
	once    sync.Once
}

func (m *mockMarket) FetchQuote(_ context.Context, ticker string) (domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[ticker]; err != nil {
		return domain.Quote{}, err
	}
	q, ok := m.quotes[ticker]
	if !ok {
		return domain.Quote{}, errors.New("unknown ticker")
	}
	return q, nil
}

func (m *mockMarket) FetchQuotesBatch(ctx context.Context, tickers []string) map[string]ports.QuoteResult {
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), tickers...))
	m.mu.Unlock()

	out := make(map[string]ports.QuoteResult, len(tickers))
	for _, t := range tickers {
		q, err := m.FetchQuote(ctx, t)
		out[t] = ports.QuoteResult{Quote: q, Err: err}
	}
	return out
}

func (m *mockMarket) SetQuote(q domain.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Ticker] = q
}

func (m *mockMarket) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.batches...)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
	ctxErrs  []error
	err      error

	onNotify func(msg string) // se llama antes de registrar, sin el lock
}

func (m *mockNotifier) Notify(ctx context.Context, msg string) error {
	if m.onNotify != nil {
		m.onNotify(msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.err
}

func (m *mockNotifier) CtxErrs() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.ctxErrs...)
}

func (m *mockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func (m *mockNotifier) CountContaining(substr string) int {
	n := 0
	for _, msg := range m.Messages() {
		if strings.Contains(msg, substr) {
			n++
		}
	}
	return n
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockBroadcaster) Publish(ev domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockBroadcaster) Count(t domain.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (m *mockBroadcaster) Last(t domain.EventType) (domain.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Type == t {
			return m.events[i], true
		}
	}
	return domain.Event{}, false
}

type mockNarrative struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (m *mockNarrative) Explain(_ context.Context, _ string, _ domain.AnomalyEvent, _ domain.Quote) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.text, m.err
}

type fixedThresholds domain.AnomalyThresholds

func (f fixedThresholds) AnomalyThresholds() domain.AnomalyThresholds {
	return domain.AnomalyThresholds(f)
}

type mockHours struct {
	mu   sync.Mutex
	open bool
}

func (m *mockHours) IsOpen(_ time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- helpers ---

var baseTime = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func makePosition(id int64, ticker string, status domain.PositionStatus, daysActive int) domain.Position {
	p := domain.Position{
		ID:            id,
		Ticker:        ticker,
		RecommendedAt: baseTime.AddDate(0, 0, -daysActive),
		EntryPrice:    1000,
		StopLoss:      950,
		TargetPrice:   1100,
		MaxHoldDays:   14,
		OrderKind:     domain.OrderMarket,
		Status:        status,
	}
	if status == domain.StatusEntryHit {
		at := p.RecommendedAt.Add(time.Hour)
		p.EntryHitAt = &at
	}
	return p
}

func quote(ticker string, price float64) domain.Quote {
	return domain.Quote{Ticker: ticker, Price: price, Volume: 1_000_000, AverageVolume: 1_000_000}
}

func newMarket(quotes ...domain.Quote) *mockMarket {
	m := &mockMarket{quotes: make(map[string]domain.Quote), errs: make(map[string]error)}
	for _, q := range quotes {
		m.quotes[q.Ticker] = q
	}
	return m
}

func testConfig(clock *fakeClock) monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Updater.BatchDelay = 0
	cfg.Narrative = monitor.BestEffortConfig{Attempts: 2, BaseDelay: time.Millisecond, Timeout: time.Second}
	cfg.Now = clock.Now
	return cfg
}
