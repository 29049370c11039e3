package domain

import "time"

// EventType identifica el mensaje enviado a los clientes del dashboard.
type EventType string

const (
	EventPrices     EventType = "prices"
	EventTransition EventType = "transition"
	EventAnomaly    EventType = "anomaly"
	EventHeartbeat  EventType = "heartbeat"
)

// Event es el sobre que viaja por el BroadcastSink.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Heartbeat es el payload de liveness. Nunca se usa para correctness.
type Heartbeat struct {
	MarketOpen bool      `json:"market_open"`
	LastTickAt time.Time `json:"last_tick_at"`
	Busy       bool      `json:"busy"`
}
