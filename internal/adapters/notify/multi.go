package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/posmon/internal/ports"
)

// Multi reparte cada mensaje a varios sinks. Todos se intentan aunque alguno falle.
type Multi []ports.NotificationSink

// Notify devuelve los errores de todos los sinks que fallaron.
func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
