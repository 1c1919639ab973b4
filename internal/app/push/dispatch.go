package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clients"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/notifier"
)

// Dispatcher renders classified push payloads.
type Dispatcher struct {
	notifier notifier.Notifier
	registry clients.Registry
	log      logging.Logger

	// NewTag names notifications that arrive without a tag.
	NewTag func() string
}

func NewDispatcher(n notifier.Notifier, r clients.Registry, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Discard()
	}
	return &Dispatcher{notifier: n, registry: r, log: log, NewTag: uuid.NewString}
}

// Dispatch classifies raw and either broadcasts the silent update or shows the notification.
// It returns the decision that was acted on.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (Decision, error) {
	dec := Classify(raw)
	if dec.Malformed {
		d.log.Warnf("push: payload is not a JSON object, showing as text")
	}

	if dec.Silent {
		n, err := d.registry.Broadcast(ctx, dec.Update)
		if err != nil {
			return dec, fmt.Errorf("broadcast %s: %w", dec.Update.Type, err)
		}
		d.log.Debugf("push: %s delivered to %d clients", dec.Update.Type, n)
		return dec, nil
	}

	if dec.Notification.Tag == "" {
		dec.Notification.Tag = d.NewTag()
	}
	if err := d.notifier.Show(ctx, dec.Notification); err != nil {
		return dec, fmt.Errorf("show notification %s: %w", dec.Notification.Tag, err)
	}
	return dec, nil
}
