package domain

import (
	"math"
	"time"
)

// PositionStatus es el estado del ciclo de vida de una recomendación.
type PositionStatus string

const (
	StatusPending   PositionStatus = "pending"
	StatusEntryHit  PositionStatus = "entry_hit"
	StatusTargetHit PositionStatus = "target_hit"
	StatusSLHit     PositionStatus = "sl_hit"
	StatusExpired   PositionStatus = "expired"
)

// IsTerminal devuelve true para los estados absorbentes.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusTargetHit || s == StatusSLHit || s == StatusExpired
}

// IsOpen devuelve true si la posición sigue siendo evaluada cada tick.
func (s PositionStatus) IsOpen() bool {
	return s == StatusPending || s == StatusEntryHit
}

// validTransitions define el grafo de estados. Solo avanza, nunca retrocede.
var validTransitions = map[PositionStatus][]PositionStatus{
	StatusPending:  {StatusEntryHit, StatusExpired},
	StatusEntryHit: {StatusTargetHit, StatusSLHit, StatusExpired},
}

// CanTransition comprueba si el paso from → to está permitido.
func CanTransition(from, to PositionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OrderKind es el tipo de orden con el que se recomienda la entrada.
type OrderKind string

const (
	OrderLimit  OrderKind = "LIMIT"
	OrderMarket OrderKind = "MARKET"
)

// Position es una recomendación de trade (PositionRecommendation).
// La crea el colaborador de análisis; este módulo solo la mueve por el
// grafo de estados. Nunca se borra, solo se termina.
type Position struct {
	ID            int64          `json:"id"`
	Ticker        string         `json:"ticker"`
	RecommendedAt time.Time      `json:"recommended_at"`
	EntryPrice    float64        `json:"entry_price"`
	StopLoss      float64        `json:"stop_loss"`
	TargetPrice   float64        `json:"target_price"`
	MaxHoldDays   int            `json:"max_hold_days"`
	OrderKind     OrderKind      `json:"order_kind"`
	Status        PositionStatus `json:"status"`
	EntryHitAt    *time.Time     `json:"entry_hit_at,omitempty"`
	ExitAt        *time.Time     `json:"exit_at,omitempty"`
	ExitPrice     *float64       `json:"exit_price,omitempty"`
	ProfitLossPct *float64       `json:"profit_loss_pct,omitempty"` // nil si nunca llegó a entry_hit
}

// DaysActive devuelve los días de calendario transcurridos desde la
// recomendación, medidos en la zona horaria de now.
func (p Position) DaysActive(now time.Time) int {
	if p.RecommendedAt.IsZero() {
		return 0
	}
	from := truncateDay(p.RecommendedAt.In(now.Location()))
	to := truncateDay(now)
	days := int(math.Round(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StatusUpdate es el comando de persistencia de una transición.
// From permite al store rechazar updates sobre un estado que ya cambió.
type StatusUpdate struct {
	ID            int64
	From          PositionStatus
	To            PositionStatus
	At            time.Time
	ExitPrice     *float64
	ProfitLossPct *float64
}

// StatusTransition es el evento emitido cuando una posición cambia de estado.
type StatusTransition struct {
	ID            string         `json:"id"`
	PositionID    int64          `json:"position_id"`
	Ticker        string         `json:"ticker"`
	From          PositionStatus `json:"from"`
	To            PositionStatus `json:"to"`
	Price         float64        `json:"price"`
	Reason        string         `json:"reason"`
	At            time.Time      `json:"at"`
	ExitPrice     *float64       `json:"exit_price,omitempty"`
	ProfitLossPct *float64       `json:"profit_loss_pct,omitempty"`
}

// ProfitLossPct calcula el P&L realizado en % redondeado a 2 decimales.
func ProfitLossPct(entry, exit float64) float64 {
	if entry <= 0 {
		return 0
	}
	return Round2((exit - entry) / entry * 100)
}

// Round2 redondea a 2 decimales.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
