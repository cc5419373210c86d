// Package events fans run and template changes out to live dashboards.
// Services publish after commit; delivery is best effort and never fails the
// originating request.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
)

// Event types
const (
	RunCreated      = "run.created"
	RunAnswered     = "run.answered"
	RunCompleted    = "run.completed"
	RunAborted      = "run.aborted"
	TemplateChanged = "template.changed"
)

// Event is the wire payload shared by every instance.
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id,omitempty"`
	TemplateID string    `json:"template_id,omitempty"`
	MachineID  string    `json:"machine_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// ToSSE converts an event into the frame pushed to browsers.
func ToSSE(e Event) sse.Event {
	data, _ := json.Marshal(e)
	return sse.Event{EventType: e.Type, Data: string(data)}
}

// HubPublisher delivers straight into the local hub; used when redis is not configured.
type HubPublisher struct {
	hub *sse.Hub
}

func NewHubPublisher(hub *sse.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, e Event) {
	p.hub.Broadcast(ToSSE(e))
}
