package realtime

import (
	"verifmatos/internal/checklist"
)

const (
	TypeProgress    = "progress"
	TypeEventClosed = "event_closed"
)

// ProgressMessage is sent after every item update and on connect.
type ProgressMessage struct {
	Type         string             `json:"type"`
	EventID      int                `json:"event_id"`
	Progress     checklist.Progress `json:"progress"`
	NodeID       int                `json:"node_id,omitempty"`
	Status       string             `json:"status,omitempty"`
	Comment      string             `json:"comment,omitempty"`
	VerifierName string             `json:"verifier_name,omitempty"`
}

// ClosedMessage tells observers that the event no longer accepts updates.
type ClosedMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// Snapshot builds the message sent to an observer when it connects.
func Snapshot(eventID int, p checklist.Progress) ProgressMessage {
	return ProgressMessage{Type: TypeProgress, EventID: eventID, Progress: p}
}

// Closed builds the close notification.
func Closed(eventID int) ClosedMessage {
	return ClosedMessage{Type: TypeEventClosed, EventID: eventID}
}
