package monitor

import (
	"sync"
	"time"
)

const defaultCooldownWindow = time.Hour

// CooldownRegistry guarda por ticker el momento de la última alerta de anomalía.
// Sin eviction: el tamaño está acotado por el universo de tickers activos.
type CooldownRegistry struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewCooldownRegistry crea un registro con la ventana dada (1h si <= 0).
func NewCooldownRegistry(window time.Duration) *CooldownRegistry {
	if window <= 0 {
		window = defaultCooldownWindow
	}
	return &CooldownRegistry{window: window, last: make(map[string]time.Time)}
}

// Suppressed devuelve true si la última alerta del ticker es más reciente que la ventana.
func (c *CooldownRegistry) Suppressed(ticker string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[ticker]
	return ok && now.Sub(last) < c.window
}

// Mark registra now como última alerta. Debe llamarse antes de notificar.
func (c *CooldownRegistry) Mark(ticker string, now time.Time) {
	c.mu.Lock()
	c.last[ticker] = now
	c.mu.Unlock()
}

// Reset olvida todas las alertas registradas.
func (c *CooldownRegistry) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}

// Len devuelve cuántos tickers tienen alerta registrada.
func (c *CooldownRegistry) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
