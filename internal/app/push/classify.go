package push

import (
	"bytes"
	"encoding/json"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clients"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/notifier"
)

const (
	// DataTypeBadgeUpdate marks a payload that only updates state in open instances.
	DataTypeBadgeUpdate = "badge-update"
	// MessageBadgeUpdate is broadcast to instances for a silent badge update.
	MessageBadgeUpdate = "BADGE_UPDATE"

	DefaultTitle = "Waypoint"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge-72.png"
)

// DefaultActions are attached to visible notifications that do not bring their own.
var DefaultActions = []notifier.Action{
	{Action: "open", Title: "Open"},
	{Action: "dismiss", Title: "Dismiss"},
}

// Payload is the push contract.
type Payload struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Icon    string            `json:"icon"`
	Badge   string            `json:"badge"`
	Tag     string            `json:"tag"`
	Data    map[string]any    `json:"data"`
	Actions []notifier.Action `json:"actions"`
}

// Decision is the outcome of classifying a push payload: either a silent update for open
// instances or a notification to render.
type Decision struct {
	Silent       bool
	Update       clients.Message
	Notification notifier.Notification
	// Malformed is set when the payload was not a JSON object and was shown as plain text.
	Malformed bool
}

// Classify turns a raw push payload into a Decision. It has no side effects and never fails.
//
// Only a payload that is not a JSON object is malformed. Inside an object each field is decoded
// on its own, and a field of the wrong type is dropped as if it were absent.
func Classify(raw []byte) Decision {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Decision{Notification: visible(Payload{})}
	}
	p, ok := decodePayload(trimmed)
	if !ok {
		return Decision{
			Malformed:    true,
			Notification: visible(Payload{Body: string(trimmed)}),
		}
	}

	if t, _ := p.Data["type"].(string); t == DataTypeBadgeUpdate {
		return Decision{
			Silent: true,
			Update: clients.Message{
				Type: MessageBadgeUpdate,
				Data: map[string]any{"count": badgeCount(p.Data["count"])},
			},
		}
	}
	return Decision{Notification: visible(p)}
}

func decodePayload(raw []byte) (Payload, bool) {
	var fields map[string]json.RawMessage
	if raw[0] != '{' || json.Unmarshal(raw, &fields) != nil {
		return Payload{}, false
	}
	var p Payload
	decodeField(fields, "title", &p.Title)
	decodeField(fields, "body", &p.Body)
	decodeField(fields, "icon", &p.Icon)
	decodeField(fields, "badge", &p.Badge)
	decodeField(fields, "tag", &p.Tag)
	decodeField(fields, "data", &p.Data)
	decodeField(fields, "actions", &p.Actions)
	return p, true
}

// decodeField leaves dst at its zero value when the field is missing or has the wrong type.
func decodeField[T any](fields map[string]json.RawMessage, name string, dst *T) {
	v, ok := fields[name]
	if !ok {
		return
	}
	var out T
	if json.Unmarshal(v, &out) != nil {
		return
	}
	*dst = out
}

func visible(p Payload) notifier.Notification {
	n := notifier.Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    p.Icon,
		Badge:   p.Badge,
		Tag:     p.Tag,
		Data:    p.Data,
		Actions: p.Actions,
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadge
	}
	if len(n.Actions) == 0 {
		n.Actions = append([]notifier.Action(nil), DefaultActions...)
	}
	return n
}

// badgeCount accepts a JSON number or numeric string; anything else counts as zero.
func badgeCount(v any) int {
	switch c := v.(type) {
	case float64:
		if c < 0 {
			return 0
		}
		return int(c)
	case string:
		if i, err := json.Number(c).Int64(); err == nil && i >= 0 {
			return int(i)
		}
	}
	return 0
}
