package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/posmon/internal/domain"
)

// DetectAnomalies evalúa una cotización contra los umbrales vigentes.
// PRICE y VOLUME son independientes y pueden dispararse a la vez.
// Un umbral <= 0 desactiva su chequeo.
func DetectAnomalies(q domain.Quote, th domain.AnomalyThresholds, now time.Time) []domain.AnomalyEvent {
	var events []domain.AnomalyEvent

	if th.PriceChangePct > 0 && math.Abs(q.ChangePercent) >= th.PriceChangePct {
		direction := "up"
		if q.ChangePercent < 0 {
			direction = "down"
		}
		events = append(events, domain.AnomalyEvent{
			ID:        uuid.NewString(),
			Ticker:    q.Ticker,
			Kind:      domain.AnomalyPrice,
			Value:     q.ChangePercent,
			Threshold: th.PriceChangePct,
			Message: fmt.Sprintf("%s moved %s %.2f%% (threshold %.2f%%)",
				q.Ticker, direction, math.Abs(q.ChangePercent), th.PriceChangePct),
			At: now,
		})
	}

	if th.VolumeMultiplier > 0 && q.AverageVolume > 0 && q.Volume >= q.AverageVolume*th.VolumeMultiplier {
		mult := q.Volume / q.AverageVolume
		events = append(events, domain.AnomalyEvent{
			ID:        uuid.NewString(),
			Ticker:    q.Ticker,
			Kind:      domain.AnomalyVolume,
			Value:     mult,
			Threshold: th.VolumeMultiplier,
			Message: fmt.Sprintf("%s volume spike %.1fx average (threshold %.1fx)",
				q.Ticker, mult, th.VolumeMultiplier),
			At: now,
		})
	}

	return events
}
