package domain

import "time"

// TrackedPosition es la vista enriquecida de una Position con el precio del tick.
// No se persiste; se recalcula en cada tick.
type TrackedPosition struct {
	Position
	CurrentPrice        float64   `json:"current_price"`
	DaysActive          int       `json:"days_active"`
	UnrealizedPnLPct    *float64  `json:"unrealized_pnl_pct,omitempty"` // solo con entry_hit
	DistanceToEntryPct  float64   `json:"distance_to_entry_pct"`
	DistanceToTargetPct float64   `json:"distance_to_target_pct"`
	DistanceToStopPct   float64   `json:"distance_to_stop_pct"`
	RiskReward          float64   `json:"risk_reward"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Track construye la vista enriquecida para el precio y momento dados.
func Track(p Position, price float64, now time.Time) TrackedPosition {
	t := TrackedPosition{
		Position:     p,
		CurrentPrice: price,
		DaysActive:   p.DaysActive(now),
		RiskReward:   RiskReward(p.EntryPrice, p.StopLoss, p.TargetPrice),
		UpdatedAt:    now,
	}
	if price > 0 {
		t.DistanceToEntryPct = distancePct(price, p.EntryPrice)
		t.DistanceToTargetPct = distancePct(price, p.TargetPrice)
		t.DistanceToStopPct = distancePct(price, p.StopLoss)
	}
	if p.Status == StatusEntryHit && price > 0 {
		pnl := ProfitLossPct(p.EntryPrice, price)
		t.UnrealizedPnLPct = &pnl
	}
	return t
}

// RiskReward devuelve reward/risk. 0 si el riesgo no es positivo.
func RiskReward(entry, stop, target float64) float64 {
	risk := entry - stop
	if risk <= 0 {
		return 0
	}
	return Round2((target - entry) / risk)
}

// distancePct es cuánto tiene que moverse el precio (en %) para llegar al nivel.
func distancePct(price, level float64) float64 {
	if price <= 0 || level <= 0 {
		return 0
	}
	return Round2((level - price) / price * 100)
}
