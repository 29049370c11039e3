package monitor

import (
	"context"
	"fmt"
	"math"
	"time"
)

// BestEffortConfig acota una llamada a una dependencia externa no crítica.
type BestEffortConfig struct {
	Attempts  int           // intentos totales
	BaseDelay time.Duration // espera tras el primer fallo; se duplica en cada intento
	Timeout   time.Duration // tope para todos los intentos juntos
}

// DefaultBestEffortConfig: 3 intentos, 200ms/400ms de backoff, 5s en total.
func DefaultBestEffortConfig() BestEffortConfig {
	return BestEffortConfig{Attempts: 3, BaseDelay: 200 * time.Millisecond, Timeout: 5 * time.Second}
}

// BestEffort ejecuta fn con reintentos y backoff exponencial. Si se agotan los
// intentos o el timeout, devuelve fallback junto con el último error.
func BestEffort[T any](ctx context.Context, cfg BestEffortConfig, fallback T, fn func(context.Context) (T, error)) (T, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == cfg.Attempts-1 {
			break
		}
		if !backoff(ctx, cfg.BaseDelay, attempt) {
			break
		}
	}
	return fallback, fmt.Errorf("best effort: gave up after %d attempts: %w", cfg.Attempts, lastErr)
}

// backoff espera BaseDelay×2^attempt. Devuelve false si el contexto terminó antes.
func backoff(ctx context.Context, base time.Duration, attempt int) bool {
	return pause(ctx, time.Duration(math.Pow(2, float64(attempt)))*base)
}
