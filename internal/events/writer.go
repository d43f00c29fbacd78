// Package events appends to the append-only journal. Every engine mutation
// and pipeline transition lands here, so `sl log` can replay what happened
// to a project.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine and the pipeline runner.
const (
	TypeProjectCreated   = "project.created"
	TypeProjectUpdated   = "project.updated"
	TypeProjectReset     = "project.reset"
	TypeBrandUpdated     = "brand.updated"
	TypeShotAdded        = "shot.added"
	TypeShotUpdated      = "shot.updated"
	TypeShotRemoved      = "shot.removed"
	TypeShotDuplicated   = "shot.duplicated"
	TypeShotsReordered   = "shots.reordered"
	TypeShotResult       = "shot.result"
	TypeVoiceoverUpdated = "voiceover.updated"
	TypeVoiceoverResult  = "voiceover.result"
	TypeGenerationStage  = "generation.stage"
	TypeGenerationDone   = "generation.completed"
	TypeGenerationFailed = "generation.failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
