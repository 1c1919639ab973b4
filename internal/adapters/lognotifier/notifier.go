package lognotifier

import (
	"context"
	"fmt"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clients"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/notifier"
)

// MessageNotification carries a visible notification to open instances, which render it.
const MessageNotification = "NOTIFICATION"

// Notifier logs each notification and hands it to open application instances.
type Notifier struct {
	log      logging.Logger
	registry clients.Registry
}

func New(log logging.Logger, registry clients.Registry) *Notifier {
	if log == nil {
		log = logging.Discard()
	}
	return &Notifier{log: log, registry: registry}
}

func (n *Notifier) Show(ctx context.Context, note notifier.Notification) error {
	n.log.Infof("notification %s: %q %q", note.Tag, note.Title, note.Body)
	if n.registry == nil {
		return nil
	}

	actions := make([]map[string]any, 0, len(note.Actions))
	for _, a := range note.Actions {
		actions = append(actions, map[string]any{"action": a.Action, "title": a.Title, "icon": a.Icon})
	}
	data := map[string]any{
		"title":   note.Title,
		"body":    note.Body,
		"icon":    note.Icon,
		"badge":   note.Badge,
		"tag":     note.Tag,
		"actions": actions,
	}
	if note.Data != nil {
		data["data"] = note.Data
	}
	if _, err := n.registry.Broadcast(ctx, clients.Message{Type: MessageNotification, Data: data}); err != nil {
		return fmt.Errorf("deliver notification %s: %w", note.Tag, err)
	}
	return nil
}
