package monitor

import (
	"math"

	"github.com/alejandrodnm/posmon/internal/domain"
)

const (
	defaultEntryTolerancePct = 0.5
	defaultStalePendingDays  = 3
)

// LimitEntryPolicy decide si una orden LIMIT puede entrar solo por precio.
type LimitEntryPolicy string

const (
	// LimitEntryWithhold: la confirmación de entrada LIMIT es un paso externo.
	LimitEntryWithhold LimitEntryPolicy = "withhold"
	// LimitEntryOnTouch: la orden LIMIT entra en cuanto el precio toca la entrada.
	LimitEntryOnTouch LimitEntryPolicy = "on_touch"
)

// StatusRules son los parámetros del motor de estados.
type StatusRules struct {
	EntryTolerancePct float64 // banda ± alrededor de la entrada, en %
	StalePendingDays  int
	LimitEntry        LimitEntryPolicy
}

// DefaultStatusRules devuelve las reglas de producción.
func DefaultStatusRules() StatusRules {
	return StatusRules{
		EntryTolerancePct: defaultEntryTolerancePct,
		StalePendingDays:  defaultStalePendingDays,
		LimitEntry:        LimitEntryWithhold,
	}
}

// StatusInput es todo lo que el motor necesita de una posición en un tick.
type StatusInput struct {
	Status      domain.PositionStatus
	OrderKind   domain.OrderKind
	EntryPrice  float64
	StopLoss    float64
	TargetPrice float64
	MaxHoldDays int
	DaysActive  int
	Price       float64
}

// Decision es la transición que el motor decide disparar.
type Decision struct {
	To     domain.PositionStatus
	Reason string
}

// EvaluateStatus aplica las reglas en orden de prioridad y devuelve como
// mucho una transición. Función pura: el caller persiste.
func EvaluateStatus(rules StatusRules, in StatusInput) (Decision, bool) {
	if in.Price <= 0 || math.IsNaN(in.Price) {
		return Decision{}, false
	}

	switch in.Status {
	case domain.StatusPending:
		return evaluatePending(rules, in)
	case domain.StatusEntryHit:
		return evaluateEntryHit(in)
	default:
		// terminales (o desconocidos): absorbentes
		return Decision{}, false
	}
}

func evaluatePending(rules StatusRules, in StatusInput) (Decision, bool) {
	if entered(rules, in) {
		return Decision{To: domain.StatusEntryHit, Reason: "entry price reached"}, true
	}

	stale := rules.StalePendingDays
	if stale <= 0 {
		stale = defaultStalePendingDays
	}
	if in.DaysActive >= stale {
		return Decision{To: domain.StatusExpired, Reason: "stale pending"}, true
	}
	if in.MaxHoldDays > 0 && in.DaysActive >= in.MaxHoldDays {
		return Decision{To: domain.StatusExpired, Reason: "max hold days exceeded without entry"}, true
	}
	return Decision{}, false
}

// Stop-loss antes que target: ante una posición mal formada (stop >= target)
// gana siempre el riesgo.
func evaluateEntryHit(in StatusInput) (Decision, bool) {
	switch {
	case in.Price <= in.StopLoss:
		return Decision{To: domain.StatusSLHit, Reason: "stop loss hit"}, true
	case in.Price >= in.TargetPrice:
		return Decision{To: domain.StatusTargetHit, Reason: "target price hit"}, true
	case in.MaxHoldDays > 0 && in.DaysActive >= in.MaxHoldDays:
		return Decision{To: domain.StatusExpired, Reason: "max hold days reached, forced exit"}, true
	}
	return Decision{}, false
}

func entered(rules StatusRules, in StatusInput) bool {
	if in.EntryPrice <= 0 {
		return false
	}
	tol := rules.EntryTolerancePct
	if tol <= 0 {
		tol = defaultEntryTolerancePct
	}
	band := in.EntryPrice * tol / 100
	upper := in.EntryPrice + band

	switch in.OrderKind {
	case domain.OrderMarket:
		return math.Abs(in.Price-in.EntryPrice) <= band
	case domain.OrderLimit:
		if rules.LimitEntry != LimitEntryOnTouch {
			return false
		}
		// una LIMIT de compra se llena al precio de entrada o mejor
		return in.Price <= upper
	}
	return false
}
