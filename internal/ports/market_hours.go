package ports

import "time"

// MarketHoursPolicy decide si el mercado está abierto (sesiones, fines de semana, festivos).
type MarketHoursPolicy interface {
	IsOpen(now time.Time) bool
}
