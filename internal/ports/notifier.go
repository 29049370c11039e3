package ports

import (
	"context"

	"github.com/alejandrodnm/posmon/internal/domain"
)

// NotificationSink entrega mensajes de texto al chat.
// Fire-and-forget: el error solo se loguea, la entrega es cosa del sink.
type NotificationSink interface {
	Notify(ctx context.Context, message string) error
}

// BroadcastSink publica eventos a los clientes en tiempo real.
// Publish nunca debe bloquear ni hacer panic.
type BroadcastSink interface {
	Publish(event domain.Event)
}
