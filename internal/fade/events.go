package fade

import (
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/fadectl/internal/light"
)

// EventType identifies a fade lifecycle event.
type EventType string

const (
	EventFadeStarted   EventType = "fade_started"
	EventFadeCompleted EventType = "fade_completed"
	EventFadeAborted   EventType = "fade_aborted"
)

// Event describes a fade lifecycle transition. SessionID correlates events
// of the same fade across logs, the event bus and the ledger.
type Event struct {
	Type      EventType
	SessionID uuid.UUID
	Target    light.State
	Current   light.State
	Duration  time.Duration
}
