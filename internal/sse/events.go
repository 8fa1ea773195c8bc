// Package sse implements Server-Sent Events so that every committed store write
// reaches subscribed gallery clients.
package sse

import "time"

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"

	// Record change events. The entity kind travels in the payload.
	EventRecordCreated EventType = "record.created"
	EventRecordUpdated EventType = "record.updated"
	EventRecordDeleted EventType = "record.deleted"

	// EventBatchCommitted is sent once per committed chunk of a batch write.
	EventBatchCommitted EventType = "batch.committed"

	// EventJobCompleted is sent when an administrative job finishes.
	EventJobCompleted EventType = "job.completed"
)

// Event represents an SSE event to be sent to clients. Seq is assigned by the
// Manager when the event is broadcast; heartbeats carry none.
type Event struct {
	Seq       uint64    `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// RecordEventData identifies a changed record. Record is omitted for deletes.
type RecordEventData struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Record any    `json:"record,omitempty"`
}

// BatchEventData summarizes one committed chunk.
type BatchEventData struct {
	Chunk   int            `json:"chunk"`
	Applied int            `json:"applied"`
	Kinds   map[string]int `json:"kinds"`
}

// JobEventData summarizes a finished job run.
type JobEventData struct {
	RunID    string `json:"runId"`
	Job      string `json:"job"`
	DryRun   bool   `json:"dryRun"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return Event{Type: EventHeartbeat, Timestamp: time.Now(), Data: map[string]any{}}
}

// NewRecordEvent creates a record change event.
func NewRecordEvent(t EventType, kind, id string, record any, at time.Time) Event {
	return Event{
		Type:      t,
		Timestamp: at,
		Data:      RecordEventData{Kind: kind, ID: id, Record: record},
	}
}

// NewBatchCommittedEvent creates a batch chunk event.
func NewBatchCommittedEvent(chunk, applied int, kinds map[string]int, at time.Time) Event {
	return Event{
		Type:      EventBatchCommitted,
		Timestamp: at,
		Data:      BatchEventData{Chunk: chunk, Applied: applied, Kinds: kinds},
	}
}

// NewJobCompletedEvent creates a job completion event.
func NewJobCompletedEvent(data JobEventData, at time.Time) Event {
	return Event{Type: EventJobCompleted, Timestamp: at, Data: data}
}
