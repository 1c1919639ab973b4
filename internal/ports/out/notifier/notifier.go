package notifier

import "context"

// Action is a button rendered on a visible notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is a visible, user-facing notification.
type Notification struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []Action       `json:"actions,omitempty"`
}

// Notifier renders notifications through the host notification API.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}
