package contracts

import "time"

// Entity types carried by ActivityEvent.
const (
	EntityTodo = "todo"
	EntityNote = "note"
)

// Actions carried by ActivityEvent.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionCompleted = "completed"
	ActionReopened  = "reopened"
	ActionSpawned   = "spawned"
)

// ActivityEvent is published by webapp after a successful mutation and
// consumed by the activity sink and the SSE fan-out.
type ActivityEvent struct {
	EventID    string    `json:"event_id"`
	OwnerID    string    `json:"owner_id"`
	ActorName  string    `json:"actor_name"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurred_at"`
	ShardID    int       `json:"shard_id"`
}
