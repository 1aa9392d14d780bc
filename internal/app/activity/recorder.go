package activity

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nuid"
	"github.com/notedesk/project/internal/contracts"
	"github.com/notedesk/project/internal/sharding"
)

type PublishFunc func(subject string, payload []byte) error

// Recorder publishes activity events after successful mutations. Recording
// is best-effort: a publish failure is logged and never fails the operation
// that produced it.
type Recorder struct {
	Publish PublishFunc
	Now     func() time.Time
	NewID   func() string
	Logf    func(format string, args ...any)
}

func NewRecorder(publish PublishFunc) *Recorder {
	return &Recorder{
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
		Logf:    log.Printf,
	}
}

func (r *Recorder) Record(ownerID, actorName, entityType, entityID, action, title string) {
	if r == nil || r.Publish == nil {
		return
	}
	event := contracts.ActivityEvent{
		EventID:    r.NewID(),
		OwnerID:    ownerID,
		ActorName:  actorName,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Title:      title,
		OccurredAt: r.Now(),
		ShardID:    sharding.GetShardID(ownerID),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logf("activity event marshal failed: %v", err)
		return
	}
	if err := r.Publish(sharding.GetSubject(ownerID), payload); err != nil {
		r.logf("activity publish failed: %v", err)
	}
}

func (r *Recorder) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
