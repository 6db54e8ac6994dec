package messaging

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType names what happened to the referenced issue notes
type EventType string

const (
	EventIssueNotePlaced EventType = "issue_note.placed"
	EventItemsReturned   EventType = "items.returned"
)

// LibraryEvent is the message published after a successful write. Consumers
// reload the referenced issue notes instead of trusting a payload snapshot.
type LibraryEvent struct {
	Type         EventType `json:"type"`
	IssueNoteIDs []int64   `json:"issue_note_ids"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewLibraryEvent builds an event stamped with the current UTC time
func NewLibraryEvent(eventType EventType, issueNoteIDs ...int64) LibraryEvent {
	return LibraryEvent{
		Type:         eventType,
		IssueNoteIDs: issueNoteIDs,
		OccurredAt:   time.Now().UTC(),
	}
}

// Encode serializes the event for the bus
func (e LibraryEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal library event")
	}
	return data, nil
}

// DecodeLibraryEvent parses a bus message body
func DecodeLibraryEvent(body []byte) (LibraryEvent, error) {
	var event LibraryEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return LibraryEvent{}, errors.Wrap(err, "failed to unmarshal library event")
	}

	switch event.Type {
	case EventIssueNotePlaced, EventItemsReturned:
	default:
		return LibraryEvent{}, errors.Errorf("unknown event type %q", event.Type)
	}

	if len(event.IssueNoteIDs) == 0 {
		return LibraryEvent{}, errors.New("event carries no issue note ids")
	}

	return event, nil
}
