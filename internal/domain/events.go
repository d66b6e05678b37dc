package domain

// EventKind enumerates the kinds of progress events streamed to a client.
type EventKind string

const (
	EventKindStart      EventKind = "start"
	EventKindStep       EventKind = "step"
	EventKindStepResult EventKind = "step_result"
	EventKindSection    EventKind = "section"
	EventKindFinal      EventKind = "final"
	EventKindError      EventKind = "error"
	EventKindWarning    EventKind = "warning"
	EventKindInfo       EventKind = "info"
	EventKindHeartbeat  EventKind = "heartbeat"
)

// IsValid returns true if the kind is one of the known event kinds.
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindStart, EventKindStep, EventKindStepResult, EventKindSection,
		EventKindFinal, EventKindError, EventKindWarning, EventKindInfo, EventKindHeartbeat:
		return true
	default:
		return false
	}
}

// Event is one progress record handed to the event stream. The payload is
// either free text (Text) for narration or a JSON-serializable value (Data)
// for step results and the final report. Events never carry wire framing.
type Event struct {
	Kind  EventKind
	Stage string
	Text  string
	Data  any
}

// NewTextEvent creates a narration event.
func NewTextEvent(kind EventKind, stage, text string) Event {
	return Event{Kind: kind, Stage: stage, Text: text}
}

// NewDataEvent creates a structured event.
func NewDataEvent(kind EventKind, stage string, data any) Event {
	return Event{Kind: kind, Stage: stage, Data: data}
}

// HeartbeatEvent creates a content-free keep-alive event for the given stage.
func HeartbeatEvent(stage string) Event {
	return Event{Kind: EventKindHeartbeat, Stage: stage}
}
