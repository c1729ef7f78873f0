package repo

import (
	"context"

	"echowar/internal/domain"
)

const battleLogCols = `id,epoch_id,cycle,event_type,source_world_id,target_world_id,mission_id,narrative,public,metadata_json,created_at`

// BattleLogFilter narrows battle-log queries; zero values mean no filter.
type BattleLogFilter struct {
	WorldID    string
	EventType  string
	PublicOnly bool
	AfterID    int64
	Limit      int
}

// ListBattleLog returns entries newest-first unless AfterID is set, in which
// case entries after the cursor are returned oldest-first (stream catch-up).
func (r Repo) ListBattleLog(ctx context.Context, epochID string, f BattleLogFilter) ([]domain.BattleLogEntry, error) {
	query := `SELECT ` + battleLogCols + ` FROM battle_log WHERE epoch_id=?`
	args := []any{epochID}
	if f.WorldID != "" {
		query += ` AND (source_world_id=? OR target_world_id=?)`
		args = append(args, f.WorldID, f.WorldID)
	}
	if f.EventType != "" {
		query += ` AND event_type=?`
		args = append(args, f.EventType)
	}
	if f.PublicOnly {
		query += ` AND public=1`
	}
	if f.AfterID > 0 {
		query += ` AND id>? ORDER BY id`
		args = append(args, f.AfterID)
	} else {
		query += ` ORDER BY id DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BattleLogEntry
	for rows.Next() {
		var e domain.BattleLogEntry
		var src, tgt, mission *string
		var public int
		if err := rows.Scan(&e.ID, &e.EpochID, &e.Cycle, &e.EventType, &src, &tgt, &mission,
			&e.Narrative, &public, &e.MetadataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SourceWorldID = src
		e.TargetWorldID = tgt
		e.MissionID = mission
		e.Public = public != 0
		res = append(res, e)
	}
	return res, rows.Err()
}
