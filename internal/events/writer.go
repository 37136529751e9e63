package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds emitted by the settlement core. External collaborators
// (notification feeds, webhooks) consume these; nothing in the core reacts
// to its own events.
const (
	MissionCreated   = "mission.created"
	MissionAssigned  = "mission.assigned"
	ProofSubmitted   = "mission.proof_submitted"
	MissionCompleted = "mission.completed"
	MissionCancelled = "mission.cancelled"
	MissionDisputed  = "mission.disputed"
	MissionResolved  = "mission.resolved"
	ReviewCreated    = "review.created"
	BadgeUnlocked    = "badge.unlocked"
	PurchaseRecorded = "purchase.recorded"
	BoostActivated   = "boost.activated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event row inside the caller's transaction so the event
// commits or rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, kind, subjectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,subject_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, kind, nullable(subjectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
