package ports

import (
	"context"

	"github.com/alejandrodnm/posmon/internal/domain"
)

// NarrativeEnricher genera una explicación corta de una anomalía. Best-effort.
type NarrativeEnricher interface {
	Explain(ctx context.Context, ticker string, anomaly domain.AnomalyEvent, quote domain.Quote) (string, error)
}

// ThresholdSource devuelve los umbrales de anomalía vigentes.
// Se consulta en cada escaneo para permitir recarga en caliente.
type ThresholdSource interface {
	AnomalyThresholds() domain.AnomalyThresholds
}
