package repo

import (
	"context"
	"database/sql"

	"echowar/internal/domain"
)

const missionCols = `id,epoch_id,agent_id,operative_type,source_world_id,target_world_id,target_embassy_id,target_entity_id,target_zone_id,status,success_probability,resolves_at,result_json,created_at,resolved_at`

func scanMission(row interface{ Scan(...any) error }) (domain.Mission, error) {
	var m domain.Mission
	var tw, te, ten, tz, res, resolved sql.NullString
	err := row.Scan(&m.ID, &m.EpochID, &m.AgentID, &m.OperativeType, &m.SourceWorldID,
		&tw, &te, &ten, &tz, &m.Status, &m.SuccessProbability, &m.ResolvesAt, &res, &m.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.TargetWorldID = nullStr(tw)
	m.TargetEmbassyID = nullStr(te)
	m.TargetEntityID = nullStr(ten)
	m.TargetZoneID = nullStr(tz)
	m.ResultJSON = nullStr(res)
	m.ResolvedAt = nullStr(resolved)
	return m, err
}

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO missions(`+missionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.EpochID, m.AgentID, m.OperativeType, m.SourceWorldID,
		m.TargetWorldID, m.TargetEmbassyID, m.TargetEntityID, m.TargetZoneID,
		m.Status, m.SuccessProbability, m.ResolvesAt, m.ResultJSON, m.CreatedAt, m.ResolvedAt)
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions WHERE id=?`, id))
}

// ListMissions filters by optional world (source or target) and status.
func (r Repo) ListMissions(ctx context.Context, epochID, worldID, status string) ([]domain.Mission, error) {
	query := `SELECT ` + missionCols + ` FROM missions WHERE epoch_id=?`
	args := []any{epochID}
	if worldID != "" {
		query += ` AND (source_world_id=? OR target_world_id=?)`
		args = append(args, worldID, worldID)
	}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListDueMissions returns deploying/active missions whose resolves_at has elapsed.
func (r Repo) ListDueMissions(ctx context.Context, epochID, now string) ([]domain.Mission, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+missionCols+` FROM missions WHERE epoch_id=? AND status IN ('deploying','active') AND resolves_at<=? ORDER BY resolves_at, id`,
		epochID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// NonTerminalMissionForAgent returns the agent's in-flight mission, if any.
func (r Repo) NonTerminalMissionForAgent(ctx context.Context, epochID, agentID string) (domain.Mission, error) {
	return scanMission(r.DB.QueryRowContext(ctx,
		`SELECT `+missionCols+` FROM missions WHERE epoch_id=? AND agent_id=? AND status IN ('deploying','active','resolving','returning') LIMIT 1`,
		epochID, agentID))
}

// TransitionMission flips status only if the current status matches from.
// Reports false when another writer claimed the row first.
func (r Repo) TransitionMission(ctx context.Context, id, from, to string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE missions SET status=? WHERE id=? AND status=?`, to, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) FinishMission(ctx context.Context, tx *sql.Tx, id, status, resultJSON, resolvedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE missions SET status=?, result_json=?, resolved_at=? WHERE id=?`,
		status, resultJSON, resolvedAt, id)
	return err
}

func (r Repo) RescheduleMission(ctx context.Context, id, resolvesAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE missions SET resolves_at=? WHERE id=?`, resolvesAt, id)
	return err
}

// ListInboundMissions returns deploying/active missions targeting a world.
func (r Repo) ListInboundMissions(ctx context.Context, epochID, targetWorldID string) ([]domain.Mission, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+missionCols+` FROM missions WHERE epoch_id=? AND target_world_id=? AND status IN ('deploying','active') ORDER BY created_at, id`,
		epochID, targetWorldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountActiveGarrisons counts active self-garrison missions defending a world.
func (r Repo) CountActiveGarrisons(ctx context.Context, epochID, worldID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM missions WHERE epoch_id=? AND source_world_id=? AND operative_type='garrison' AND status IN ('deploying','active')`,
		epochID, worldID).Scan(&n)
	return n, err
}

// MissionOutcomeCounts returns per-operative-type success counts and the number
// of detected/captured missions for a world in an epoch.
func (r Repo) MissionOutcomeCounts(ctx context.Context, epochID, worldID string) (map[string]int, int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT operative_type, status, COUNT(*) FROM missions WHERE epoch_id=? AND source_world_id=? AND status IN ('success','detected','captured') GROUP BY operative_type, status`,
		epochID, worldID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	successes := map[string]int{}
	exposed := 0
	for rows.Next() {
		var op, status string
		var n int
		if err := rows.Scan(&op, &status, &n); err != nil {
			return nil, 0, err
		}
		if status == domain.MissionSuccess {
			successes[op] += n
		} else {
			exposed += n
		}
	}
	return successes, exposed, rows.Err()
}
