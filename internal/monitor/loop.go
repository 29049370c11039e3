package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

const (
	defaultInterval  = 15 * time.Second
	defaultHeartbeat = time.Second
)

// ErrTickInProgress se devuelve al forzar un tick mientras otro está corriendo.
var ErrTickInProgress = errors.New("monitor: tick in progress")

// LoopConfig controla los timers del loop.
type LoopConfig struct {
	Interval  time.Duration
	Heartbeat time.Duration
}

// DefaultLoopConfig: check cada 15s, heartbeat cada 1s.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{Interval: defaultInterval, Heartbeat: defaultHeartbeat}
}

// Loop es el scheduler: ticks serializados (run-to-completion, skip-if-busy)
// más un heartbeat independiente que solo sirve para mostrar liveness.
type Loop struct {
	cfg         LoopConfig
	engine      *Engine
	hours       ports.MarketHoursPolicy
	broadcaster ports.BroadcastSink
	now         func() time.Time

	busy          atomic.Bool
	lastHeartbeat atomic.Int64 // unix nanos

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLoop crea el scheduler. hours nil = mercado siempre abierto.
func NewLoop(cfg LoopConfig, engine *Engine, hours ports.MarketHoursPolicy, broadcaster ports.BroadcastSink) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Loop{
		cfg:         cfg,
		engine:      engine,
		hours:       hours,
		broadcaster: broadcaster,
		now:         engine.now,
	}
}

// Start ejecuta un check inmediato y programa los siguientes. No bloquea.
// Llamarlo con el loop ya corriendo no hace nada.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		slog.Warn("monitor loop already running, ignoring start")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(2)
	go l.runTicks(ctx)
	go l.runHeartbeat(ctx)

	slog.Info("monitor loop started",
		"interval", l.cfg.Interval,
		"heartbeat", l.cfg.Heartbeat,
	)
}

// Stop cancela ambos timers y espera a que terminen las goroutines.
// Un tick en curso no se interrumpe: sus side effects se completan. Idempotente.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
	slog.Info("monitor loop stopped")
}

// Running devuelve true entre Start y Stop.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// TriggerNow fuerza una pasada fuera del timer (refresh bajo demanda).
// Ignora el horario de mercado. Si hay un tick corriendo devuelve ErrTickInProgress.
// Cancelar ctx no corta la pasada: lo persistido siempre se notifica.
func (l *Loop) TriggerNow(ctx context.Context) (res *UpdateResult, err error) {
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer l.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor: tick panic: %v", r)
			slog.Error("manual tick panicked", "panic", r)
		}
	}()
	return l.engine.RunTick(context.WithoutCancel(ctx))
}

// Tracked devuelve la última lista de posiciones trackeadas.
func (l *Loop) Tracked() []domain.TrackedPosition {
	return l.engine.Tracked()
}

// LastHeartbeat devuelve el momento del último heartbeat emitido.
func (l *Loop) LastHeartbeat() time.Time {
	n := l.lastHeartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (l *Loop) runTicks(ctx context.Context) {
	defer l.wg.Done()

	l.tick(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick es la frontera de errores: nada de lo que pase aquí dentro para el loop.
func (l *Loop) tick(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		ticksTotal.WithLabelValues("busy").Inc()
		slog.Debug("previous tick still running, skipping")
		return
	}
	defer l.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			ticksTotal.WithLabelValues("failed").Inc()
			slog.Error("tick panicked", "panic", r)
		}
	}()

	if !l.marketOpen() {
		ticksTotal.WithLabelValues("market_closed").Inc()
		slog.Debug("market closed, skipping tick")
		return
	}

	start := time.Now()
	// Stop no interrumpe el trabajo en curso.
	res, err := l.engine.RunTick(context.WithoutCancel(ctx))
	tickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		ticksTotal.WithLabelValues("failed").Inc()
		slog.Error("tick failed", "err", err)
		return
	}

	ticksTotal.WithLabelValues("ok").Inc()
	slog.Info("tick complete",
		"checked", res.Checked,
		"updated", res.Updated,
		"errors", len(res.Errors),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

func (l *Loop) runHeartbeat(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.beat()
		}
	}
}

func (l *Loop) beat() {
	now := l.now()
	l.lastHeartbeat.Store(now.UnixNano())
	if l.broadcaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("heartbeat broadcast panic", "panic", r)
		}
	}()
	l.broadcaster.Publish(domain.Event{
		Type: domain.EventHeartbeat,
		At:   now,
		Data: domain.Heartbeat{
			MarketOpen: l.marketOpen(),
			LastTickAt: l.engine.LastTickAt(),
			Busy:       l.busy.Load(),
		},
	})
}

func (l *Loop) marketOpen() bool {
	return l.hours == nil || l.hours.IsOpen(l.now())
}
