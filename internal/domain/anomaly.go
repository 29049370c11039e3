package domain

import "time"

// Quote es la cotización de un ticker en el momento del tick.
type Quote struct {
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	Volume        float64   `json:"volume"`
	AverageVolume float64   `json:"average_volume"` // 0 = desconocido
	At            time.Time `json:"at"`
}

// AnomalyKind distingue anomalías de precio y de volumen.
type AnomalyKind string

const (
	AnomalyPrice  AnomalyKind = "PRICE"
	AnomalyVolume AnomalyKind = "VOLUME"
)

// AnomalyThresholds son los umbrales configurables (recargables en caliente).
type AnomalyThresholds struct {
	PriceChangePct   float64 `yaml:"price_change_pct" json:"price_change_pct"`
	VolumeMultiplier float64 `yaml:"volume_multiplier" json:"volume_multiplier"`
}

// AnomalyEvent es una desviación detectada para un ticker. Efímero.
type AnomalyEvent struct {
	ID        string      `json:"id"`
	Ticker    string      `json:"ticker"`
	Kind      AnomalyKind `json:"kind"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Message   string      `json:"message"`
	Narrative string      `json:"narrative,omitempty"`
	At        time.Time   `json:"at"`
}
