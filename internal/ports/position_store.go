package ports

import (
	"context"

	"github.com/alejandrodnm/posmon/internal/domain"
)

// PositionStore persiste las recomendaciones y sus cambios de estado.
type PositionStore interface {
	// ListOpenPositions devuelve las posiciones en pending o entry_hit.
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)

	// UpdateStatus persiste una transición. Falla si el estado guardado ya
	// no coincide con upd.From.
	UpdateStatus(ctx context.Context, upd domain.StatusUpdate) error
}
