package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastBuffer = 256

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "posmon",
		Subsystem: "broadcast",
		Name:      "clients",
		Help:      "Connected websocket clients.",
	})
	droppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Messages dropped because the hub or a client was saturated.",
	}, []string{"reason"})
)

// message es el envelope que recibe el cliente.
type message struct {
	Type domain.EventType `json:"type"`
	At   int64            `json:"at"` // unix millis
	Data any              `json:"data"`
}

// Hub reparte eventos a los clientes websocket conectados.
// Publish nunca bloquea: si el buffer está lleno el evento se descarta, y un
// cliente que no drena su cola se desconecta.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	dropped atomic.Int64
}

var _ ports.BroadcastSink = (*Hub)(nil)

// NewHub crea un Hub. Hay que arrancarlo con Run.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run procesa registros y broadcasts hasta que ctx se cancela.
// Al salir cierra la cola de todos los clientes.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			connectedClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(n))
			slog.Debug("websocket client connected", "clients", n)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				select {
				case c.send <- msg:
				default:
					droppedMessages.WithLabelValues("slow_client").Inc()
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	connectedClients.Set(float64(n))
	slog.Debug("websocket client disconnected", "clients", n)
}

// Publish serializa el evento y lo encola sin bloquear.
func (h *Hub) Publish(ev domain.Event) {
	data, err := json.Marshal(message{Type: ev.Type, At: ev.At.UnixMilli(), Data: ev.Data})
	if err != nil {
		slog.Error("broadcast marshal failed", "type", ev.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		droppedMessages.WithLabelValues("hub_full").Inc()
	}
}

// ClientCount devuelve el número de clientes conectados.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped devuelve cuántos eventos se descartaron por buffer lleno.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
