package battlelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends battle-log entries. Entries written alongside a mutation
// share its transaction; pass a nil tx for standalone appends.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

// Entry is one narrative ledger record. The log is append-only; nothing
// updates or deletes rows after this insert.
type Entry struct {
	EpochID       string
	Cycle         int
	EventType     string
	SourceWorldID string
	TargetWorldID string
	MissionID     string
	Narrative     string
	Public        bool
	Metadata      Metadata
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}
	data, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal battle log metadata: %w", err)
	}
	public := 0
	if e.Public {
		public = 1
	}
	query := `INSERT INTO battle_log(epoch_id,cycle,event_type,source_world_id,target_world_id,mission_id,narrative,public,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`
	args := []any{e.EpochID, e.Cycle, e.EventType, nullable(e.SourceWorldID), nullable(e.TargetWorldID),
		nullable(e.MissionID), e.Narrative, public, string(data), ts}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, query, args...)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
