// Package realtime fans out board change events to websocket subscribers
// through redis pub/sub, so every api instance sees every event.
package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Event types carried on the wire.
const (
	EventNoteCreated  = "NOTE_CREATED"
	EventNoteUpdated  = "NOTE_UPDATED"
	EventNoteDeleted  = "NOTE_DELETED"
	EventBoardUpdated = "BOARD_UPDATED"
)

// Event is a single board change notification.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// channelFor names the redis pub/sub channel for a board.
func channelFor(boardID string) string {
	return "board:" + boardID
}

// Emitter publishes board events. Delivery is best effort: a publish failure
// is logged and swallowed, it never fails the write that triggered it.
type Emitter struct {
	client *redis.Client
}

// NewEmitter creates an emitter over an existing redis client.
func NewEmitter(client *redis.Client) *Emitter {
	return &Emitter{client: client}
}

// Emit publishes an event for a board. Safe to call on a nil emitter; a
// deployment without redis simply runs without realtime updates.
func (e *Emitter) Emit(ctx context.Context, boardID string, event Event) {
	if e == nil || e.client == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("realtime: marshal event %s for board %s: %v", event.Type, boardID, err)
		return
	}

	if err := e.client.Publish(ctx, channelFor(boardID), data).Err(); err != nil {
		log.Printf("realtime: publish %s to board %s: %v", event.Type, boardID, err)
	}
}
