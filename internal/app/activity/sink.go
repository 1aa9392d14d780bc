package activity

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/notedesk/project/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

// Sink consumes activity events off the stream and persists them.
type Sink struct {
	Repository Repository
}

func NewSink(repository Repository) *Sink {
	return &Sink{Repository: repository}
}

func (s *Sink) Handle(ctx context.Context, payload []byte, eventSeq uint64) error {
	var event contracts.ActivityEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ErrInvalidEventPayload
	}
	if event.EventID == "" || event.OwnerID == "" {
		return ErrInvalidEventPayload
	}
	if !validAction(event.Action) {
		return ErrUnsupportedAction
	}
	return s.Repository.InsertEvent(ctx, event, eventSeq)
}

func validAction(action string) bool {
	switch action {
	case contracts.ActionCreated, contracts.ActionUpdated, contracts.ActionDeleted,
		contracts.ActionCompleted, contracts.ActionReopened, contracts.ActionSpawned:
		return true
	default:
		return false
	}
}
