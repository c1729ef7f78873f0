package repo

import (
	"context"
	"database/sql"

	"echowar/internal/domain"
)

const echoCols = `id,epoch_id,source_event_id,root_event_id,source_world_id,target_world_id,echo_vector,echo_strength,echo_depth,status,target_event_id,error_detail,created_at,updated_at`

func scanEcho(row interface{ Scan(...any) error }) (domain.Echo, error) {
	var e domain.Echo
	var target, detail sql.NullString
	err := row.Scan(&e.ID, &e.EpochID, &e.SourceEventID, &e.RootEventID, &e.SourceWorldID, &e.TargetWorldID,
		&e.Vector, &e.Strength, &e.Depth, &e.Status, &target, &detail, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	e.TargetEventID = nullStr(target)
	e.ErrorDetail = nullStr(detail)
	return e, err
}

func (r Repo) InsertEcho(ctx context.Context, tx *sql.Tx, e domain.Echo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO echoes(`+echoCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.EpochID, e.SourceEventID, e.RootEventID, e.SourceWorldID, e.TargetWorldID,
		e.Vector, e.Strength, e.Depth, e.Status, e.TargetEventID, e.ErrorDetail, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetEcho(ctx context.Context, id string) (domain.Echo, error) {
	return scanEcho(r.DB.QueryRowContext(ctx, `SELECT `+echoCols+` FROM echoes WHERE id=?`, id))
}

func (r Repo) ListEchoes(ctx context.Context, epochID, worldID, status string) ([]domain.Echo, error) {
	query := `SELECT ` + echoCols + ` FROM echoes WHERE epoch_id=?`
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
	var res []domain.Echo
	for rows.Next() {
		e, err := scanEcho(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// TransitionEcho flips status only if the current status matches from, making
// approval of an already-completed echo a detectable no-op.
func (r Repo) TransitionEcho(ctx context.Context, id, from, to, at string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE echoes SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, at, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CompleteEcho(ctx context.Context, tx *sql.Tx, id, targetEventID, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE echoes SET status=?, target_event_id=?, updated_at=? WHERE id=?`,
		domain.EchoCompleted, targetEventID, at, id)
	return err
}

func (r Repo) FailEcho(ctx context.Context, id, detail, at string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE echoes SET status=?, error_detail=?, updated_at=? WHERE id=?`,
		domain.EchoFailed, detail, at, id)
	return err
}

// SumCompletedOutboundStrength is the influence raw score input.
func (r Repo) SumCompletedOutboundStrength(ctx context.Context, epochID, worldID string) (float64, error) {
	var sum sql.NullFloat64
	err := r.DB.QueryRowContext(ctx,
		`SELECT SUM(echo_strength) FROM echoes WHERE epoch_id=? AND source_world_id=? AND status='completed'`,
		epochID, worldID).Scan(&sum)
	return sum.Float64, err
}
