package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"echowar/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- epochs ---

const epochCols = `id,name,status,current_cycle,config_json,started_at,ends_at,ended_at,created_at,updated_at`

func scanEpoch(row interface{ Scan(...any) error }) (domain.Epoch, error) {
	var e domain.Epoch
	var started, ends, ended sql.NullString
	err := row.Scan(&e.ID, &e.Name, &e.Status, &e.CurrentCycle, &e.ConfigJSON, &started, &ends, &ended, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	e.StartedAt = nullStr(started)
	e.EndsAt = nullStr(ends)
	e.EndedAt = nullStr(ended)
	return e, err
}

func (r Repo) InsertEpoch(ctx context.Context, e domain.Epoch) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO epochs(`+epochCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.Status, e.CurrentCycle, e.ConfigJSON, e.StartedAt, e.EndsAt, e.EndedAt, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetEpoch(ctx context.Context, id string) (domain.Epoch, error) {
	return scanEpoch(r.DB.QueryRowContext(ctx, `SELECT `+epochCols+` FROM epochs WHERE id=?`, id))
}

func (r Repo) GetEpochTx(ctx context.Context, tx *sql.Tx, id string) (domain.Epoch, error) {
	return scanEpoch(tx.QueryRowContext(ctx, `SELECT `+epochCols+` FROM epochs WHERE id=?`, id))
}

func (r Repo) ListEpochs(ctx context.Context) ([]domain.Epoch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+epochCols+` FROM epochs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Epoch
	for rows.Next() {
		e, err := scanEpoch(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) SingleEpoch(ctx context.Context) (domain.Epoch, error) {
	epochs, err := r.ListEpochs(ctx)
	if err != nil {
		return domain.Epoch{}, err
	}
	if len(epochs) == 0 {
		return domain.Epoch{}, ErrNotFound
	}
	if len(epochs) > 1 {
		return domain.Epoch{}, errors.New("multiple epochs exist; specify --epoch")
	}
	return epochs[0], nil
}

func (r Repo) UpdateEpochTx(ctx context.Context, tx *sql.Tx, e domain.Epoch) error {
	res, err := tx.ExecContext(ctx, `UPDATE epochs SET name=?,status=?,current_cycle=?,config_json=?,started_at=?,ends_at=?,ended_at=?,updated_at=? WHERE id=?`,
		e.Name, e.Status, e.CurrentCycle, e.ConfigJSON, e.StartedAt, e.EndsAt, e.EndedAt, e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- participants ---

const participantCols = `epoch_id,world_id,current_rp,team_id,last_rp_grant_at,cycle_ready,final_scores_json,joined_at`

func scanParticipant(row interface{ Scan(...any) error }) (domain.Participant, error) {
	var p domain.Participant
	var team, grant, scores sql.NullString
	var ready int
	err := row.Scan(&p.EpochID, &p.WorldID, &p.CurrentRP, &team, &grant, &ready, &scores, &p.JoinedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.TeamID = nullStr(team)
	p.LastRPGrantAt = nullStr(grant)
	p.FinalScoresJSON = nullStr(scores)
	p.CycleReady = ready != 0
	return p, err
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(`+participantCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.EpochID, p.WorldID, p.CurrentRP, p.TeamID, p.LastRPGrantAt, boolInt(p.CycleReady), p.FinalScoresJSON, p.JoinedAt)
	return err
}

func (r Repo) GetParticipant(ctx context.Context, epochID, worldID string) (domain.Participant, error) {
	return scanParticipant(r.DB.QueryRowContext(ctx,
		`SELECT `+participantCols+` FROM participants WHERE epoch_id=? AND world_id=?`, epochID, worldID))
}

func (r Repo) ListParticipants(ctx context.Context, epochID string) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+participantCols+` FROM participants WHERE epoch_id=? ORDER BY joined_at, world_id`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountParticipants(ctx context.Context, epochID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE epoch_id=?`, epochID).Scan(&n)
	return n, err
}

func (r Repo) DeleteParticipant(ctx context.Context, tx *sql.Tx, epochID, worldID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE epoch_id=? AND world_id=?`, epochID, worldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapRP writes next only if the stored balance still equals current.
// It reports whether the swap was applied; on a lost race the fresh balance is
// returned so the caller can retry or fail.
func (r Repo) CompareAndSwapRP(ctx context.Context, epochID, worldID string, current, next int) (bool, int, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE participants SET current_rp=? WHERE epoch_id=? AND world_id=? AND current_rp=?`,
		next, epochID, worldID, current)
	if err != nil {
		return false, 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, next, nil
	}
	var fresh int
	err = r.DB.QueryRowContext(ctx, `SELECT current_rp FROM participants WHERE epoch_id=? AND world_id=?`, epochID, worldID).Scan(&fresh)
	if err == sql.ErrNoRows {
		return false, 0, ErrNotFound
	}
	return false, fresh, err
}

func (r Repo) SetParticipantGrant(ctx context.Context, epochID, worldID, grantedAt string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE participants SET last_rp_grant_at=?, cycle_ready=0 WHERE epoch_id=? AND world_id=?`,
		grantedAt, epochID, worldID)
	return err
}

func (r Repo) SetParticipantTeam(ctx context.Context, tx *sql.Tx, epochID, worldID string, teamID *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE participants SET team_id=? WHERE epoch_id=? AND world_id=?`,
		teamID, epochID, worldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetFinalScores(ctx context.Context, tx *sql.Tx, epochID, worldID, scoresJSON string) error {
	_, err := tx.ExecContext(ctx, `UPDATE participants SET final_scores_json=? WHERE epoch_id=? AND world_id=?`,
		scoresJSON, epochID, worldID)
	return err
}

// --- teams ---

func scanTeam(row interface{ Scan(...any) error }) (domain.Team, error) {
	var t domain.Team
	var dissolved sql.NullString
	err := row.Scan(&t.ID, &t.EpochID, &t.Name, &t.FounderWorldID, &dissolved, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.DissolvedAt = nullStr(dissolved)
	return t, err
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,epoch_id,name,founder_world_id,dissolved_at,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.EpochID, t.Name, t.FounderWorldID, t.DissolvedAt, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	return scanTeam(r.DB.QueryRowContext(ctx,
		`SELECT id,epoch_id,name,founder_world_id,dissolved_at,created_at FROM teams WHERE id=?`, id))
}

func (r Repo) CountTeamMembers(ctx context.Context, teamID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE team_id=?`, teamID).Scan(&n)
	return n, err
}

func (r Repo) DissolveTeam(ctx context.Context, tx *sql.Tx, teamID, at string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE participants SET team_id=NULL WHERE team_id=?`, teamID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE teams SET dissolved_at=? WHERE id=?`, at, teamID)
	return err
}

// --- helpers ---

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
