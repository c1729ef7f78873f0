package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"echowar/internal/domain"
)

// Entity-store access. The engine only reads health/effectiveness inputs and
// applies the point mutations missions and echoes produce.

func (r Repo) InsertWorld(ctx context.Context, w domain.World) error {
	if w.FlagsJSON == "" {
		w.FlagsJSON = "{}"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO worlds(id,name,profile,bleed_enabled,flags_json,created_at) VALUES (?,?,?,?,?,?)`,
		w.ID, w.Name, nullable(w.Profile), boolInt(w.BleedEnabled), w.FlagsJSON, w.CreatedAt)
	return err
}

func (r Repo) GetWorld(ctx context.Context, id string) (domain.World, error) {
	var w domain.World
	var profile sql.NullString
	var bleed int
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,name,COALESCE(profile,''),bleed_enabled,flags_json,created_at FROM worlds WHERE id=?`, id).
		Scan(&w.ID, &w.Name, &profile, &bleed, &w.FlagsJSON, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if profile.Valid {
		w.Profile = profile.String
	}
	w.BleedEnabled = bleed != 0
	return w, err
}

// SetWorldFlag merges a boolean flag into the world's flags_json.
func (r Repo) SetWorldFlag(ctx context.Context, tx *sql.Tx, worldID, flag string, value bool) error {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT flags_json FROM worlds WHERE id=?`, worldID).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	flags := map[string]any{}
	_ = json.Unmarshal([]byte(raw), &flags)
	flags[flag] = value
	b, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE worlds SET flags_json=? WHERE id=?`, string(b), worldID)
	return err
}

// --- zones ---

func (r Repo) InsertZone(ctx context.Context, z domain.Zone) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO zones(id,world_id,name,stability,security) VALUES (?,?,?,?,?)`,
		z.ID, z.WorldID, z.Name, z.Stability, z.Security)
	return err
}

func (r Repo) GetZone(ctx context.Context, id string) (domain.Zone, error) {
	var z domain.Zone
	err := r.DB.QueryRowContext(ctx, `SELECT id,world_id,name,stability,security FROM zones WHERE id=?`, id).
		Scan(&z.ID, &z.WorldID, &z.Name, &z.Stability, &z.Security)
	if err == sql.ErrNoRows {
		return z, ErrNotFound
	}
	return z, err
}

func (r Repo) ListZones(ctx context.Context, worldID string) ([]domain.Zone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,world_id,name,stability,security FROM zones WHERE world_id=? ORDER BY id`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Zone
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.WorldID, &z.Name, &z.Stability, &z.Security); err != nil {
			return nil, err
		}
		res = append(res, z)
	}
	return res, rows.Err()
}

// --- buildings ---

func (r Repo) InsertBuilding(ctx context.Context, b domain.Building) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO buildings(id,world_id,zone_id,name,condition) VALUES (?,?,?,?,?)`,
		b.ID, b.WorldID, b.ZoneID, b.Name, b.Condition)
	return err
}

func (r Repo) GetBuilding(ctx context.Context, id string) (domain.Building, error) {
	var b domain.Building
	err := r.DB.QueryRowContext(ctx, `SELECT id,world_id,zone_id,name,condition FROM buildings WHERE id=?`, id).
		Scan(&b.ID, &b.WorldID, &b.ZoneID, &b.Name, &b.Condition)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) SetBuildingCondition(ctx context.Context, tx *sql.Tx, id, condition string) error {
	res, err := tx.ExecContext(ctx, `UPDATE buildings SET condition=? WHERE id=?`, condition, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- embassies ---

func (r Repo) InsertEmbassy(ctx context.Context, e domain.Embassy) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO embassies(id,world_id,target_world_id,effectiveness,status) VALUES (?,?,?,?,?)`,
		e.ID, e.WorldID, e.TargetWorldID, e.Effectiveness, e.Status)
	return err
}

func (r Repo) GetEmbassy(ctx context.Context, id string) (domain.Embassy, error) {
	var e domain.Embassy
	err := r.DB.QueryRowContext(ctx, `SELECT id,world_id,target_world_id,effectiveness,status FROM embassies WHERE id=?`, id).
		Scan(&e.ID, &e.WorldID, &e.TargetWorldID, &e.Effectiveness, &e.Status)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// ActiveEmbassy returns the active embassy from one world toward another.
func (r Repo) ActiveEmbassy(ctx context.Context, worldID, targetWorldID string) (domain.Embassy, error) {
	var e domain.Embassy
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,world_id,target_world_id,effectiveness,status FROM embassies WHERE world_id=? AND target_world_id=? AND status='active' LIMIT 1`,
		worldID, targetWorldID).
		Scan(&e.ID, &e.WorldID, &e.TargetWorldID, &e.Effectiveness, &e.Status)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) ListEmbassies(ctx context.Context, worldID string) ([]domain.Embassy, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,world_id,target_world_id,effectiveness,status FROM embassies WHERE world_id=? ORDER BY id`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Embassy
	for rows.Next() {
		var e domain.Embassy
		if err := rows.Scan(&e.ID, &e.WorldID, &e.TargetWorldID, &e.Effectiveness, &e.Status); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) SetEmbassyStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE embassies SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- agents ---

func (r Repo) InsertAgent(ctx context.Context, a domain.Agent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(id,world_id,name,qualification) VALUES (?,?,?,?)`,
		a.ID, a.WorldID, a.Name, a.Qualification)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var a domain.Agent
	err := r.DB.QueryRowContext(ctx, `SELECT id,world_id,name,qualification FROM agents WHERE id=?`, id).
		Scan(&a.ID, &a.WorldID, &a.Name, &a.Qualification)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// --- relationships ---

func (r Repo) InsertRelationship(ctx context.Context, rel domain.Relationship) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO relationships(id,world_id,agent_a_id,agent_b_id,intensity) VALUES (?,?,?,?,?)`,
		rel.ID, rel.WorldID, rel.AgentAID, rel.AgentBID, rel.Intensity)
	return err
}

func (r Repo) GetRelationship(ctx context.Context, id string) (domain.Relationship, error) {
	var rel domain.Relationship
	err := r.DB.QueryRowContext(ctx, `SELECT id,world_id,agent_a_id,agent_b_id,intensity FROM relationships WHERE id=?`, id).
		Scan(&rel.ID, &rel.WorldID, &rel.AgentAID, &rel.AgentBID, &rel.Intensity)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	return rel, err
}

func (r Repo) AdjustRelationshipIntensity(ctx context.Context, tx *sql.Tx, id string, delta int) error {
	res, err := tx.ExecContext(ctx, `UPDATE relationships SET intensity=MAX(0, intensity+?) WHERE id=?`, delta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- world events ---

const worldEventCols = `id,world_id,title,description,impact,tags_json,campaign_id,echo_depth,root_event_id,created_at`

func scanWorldEvent(row interface{ Scan(...any) error }) (domain.WorldEvent, error) {
	var ev domain.WorldEvent
	var desc, campaign, root sql.NullString
	err := row.Scan(&ev.ID, &ev.WorldID, &ev.Title, &desc, &ev.Impact, &ev.TagsJSON, &campaign, &ev.EchoDepth, &root, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if desc.Valid {
		ev.Description = desc.String
	}
	ev.CampaignID = nullStr(campaign)
	ev.RootEventID = nullStr(root)
	return ev, err
}

func (r Repo) InsertWorldEvent(ctx context.Context, tx *sql.Tx, ev domain.WorldEvent) error {
	if ev.TagsJSON == "" {
		ev.TagsJSON = "[]"
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO world_events(`+worldEventCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.WorldID, ev.Title, nullable(ev.Description), ev.Impact, ev.TagsJSON,
		ev.CampaignID, ev.EchoDepth, ev.RootEventID, ev.CreatedAt)
	return err
}

func (r Repo) GetWorldEvent(ctx context.Context, id string) (domain.WorldEvent, error) {
	return scanWorldEvent(r.DB.QueryRowContext(ctx, `SELECT `+worldEventCols+` FROM world_events WHERE id=?`, id))
}

// EventImpactTotals returns (bleed impact, total impact) for sovereignty scoring.
// Bleed impact counts events that arrived through an echo.
func (r Repo) EventImpactTotals(ctx context.Context, worldID string) (int, int, error) {
	var bleed, total sql.NullInt64
	err := r.DB.QueryRowContext(ctx,
		`SELECT SUM(CASE WHEN root_event_id IS NOT NULL THEN impact ELSE 0 END), SUM(impact) FROM world_events WHERE world_id=?`,
		worldID).Scan(&bleed, &total)
	return int(bleed.Int64), int(total.Int64), err
}

// --- connections ---

func (r Repo) InsertConnection(ctx context.Context, c domain.Connection) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO connections(id,source_world_id,target_world_id,strength,base_threshold,status) VALUES (?,?,?,?,?,?)`,
		c.ID, c.SourceWorldID, c.TargetWorldID, c.Strength, c.BaseThreshold, c.Status)
	return err
}

func (r Repo) ActiveConnections(ctx context.Context, sourceWorldID string) ([]domain.Connection, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,source_world_id,target_world_id,strength,base_threshold,status FROM connections WHERE source_world_id=? AND status='active' ORDER BY id`,
		sourceWorldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Connection
	for rows.Next() {
		var c domain.Connection
		if err := rows.Scan(&c.ID, &c.SourceWorldID, &c.TargetWorldID, &c.Strength, &c.BaseThreshold, &c.Status); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- game instances ---

func (r Repo) InsertGameInstance(ctx context.Context, tx *sql.Tx, gi domain.GameInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO game_instances(id,epoch_id,source_world_id,state,created_at) VALUES (?,?,?,?,?)`,
		gi.ID, gi.EpochID, gi.SourceWorldID, gi.State, gi.CreatedAt)
	return err
}

func (r Repo) SetGameInstancesState(ctx context.Context, tx *sql.Tx, epochID, state string) error {
	_, err := tx.ExecContext(ctx, `UPDATE game_instances SET state=? WHERE epoch_id=?`, state, epochID)
	return err
}

func (r Repo) ListGameInstances(ctx context.Context, epochID string) ([]domain.GameInstance, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,epoch_id,source_world_id,state,created_at FROM game_instances WHERE epoch_id=? ORDER BY id`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GameInstance
	for rows.Next() {
		var gi domain.GameInstance
		if err := rows.Scan(&gi.ID, &gi.EpochID, &gi.SourceWorldID, &gi.State, &gi.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, gi)
	}
	return res, rows.Err()
}

// --- world lenses ---

func (r Repo) UpsertWorldLens(ctx context.Context, worldID, vector, prompt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO world_lenses(world_id,echo_vector,prompt) VALUES (?,?,?)
ON CONFLICT(world_id,echo_vector) DO UPDATE SET prompt=excluded.prompt`, worldID, vector, prompt)
	return err
}

func (r Repo) GetWorldLens(ctx context.Context, worldID, vector string) (string, error) {
	var prompt string
	err := r.DB.QueryRowContext(ctx, `SELECT prompt FROM world_lenses WHERE world_id=? AND echo_vector=?`, worldID, vector).Scan(&prompt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return prompt, err
}
