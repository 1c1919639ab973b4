package lognotifier

import (
	"context"
	"testing"
	"time"

	memclients "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clients"
	memclock "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clock"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/notifier"
)

func TestShow_DeliversToOpenInstances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := memclients.NewRegistry(memclock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	_, msgs, disconnect := reg.Connect(ctx, "https://app.example.com/")
	defer disconnect()

	n := New(nil, reg)
	err := n.Show(ctx, notifier.Notification{
		Title:   "Trip updated",
		Body:    "Tahoe moved to Friday",
		Tag:     "trip-7",
		Actions: []notifier.Action{{Action: "open", Title: "Open"}},
	})
	if err != nil {
		t.Fatalf("Show() err=%v", err)
	}

	select {
	case m := <-msgs:
		if m.Type != MessageNotification || m.Data["tag"] != "trip-7" || m.Data["title"] != "Trip updated" {
			t.Fatalf("msg=%+v", m)
		}
		actions, _ := m.Data["actions"].([]map[string]any)
		if len(actions) != 1 || actions[0]["action"] != "open" {
			t.Fatalf("actions=%v", m.Data["actions"])
		}
	default:
		t.Fatal("no message delivered")
	}
}

func TestShow_WithoutRegistry(t *testing.T) {
	t.Parallel()
	if err := New(nil, nil).Show(context.Background(), notifier.Notification{Title: "x"}); err != nil {
		t.Fatalf("Show() err=%v", err)
	}
}
