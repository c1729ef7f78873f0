package repo

import (
	"context"

	"echowar/internal/domain"
)

const scoreCols = `epoch_id,world_id,cycle,stability,influence,sovereignty,diplomatic,military,composite,updated_at`

func scanSnapshot(row interface{ Scan(...any) error }) (domain.ScoreSnapshot, error) {
	var s domain.ScoreSnapshot
	err := row.Scan(&s.EpochID, &s.WorldID, &s.Cycle, &s.Stability, &s.Influence,
		&s.Sovereignty, &s.Diplomatic, &s.Military, &s.Composite, &s.UpdatedAt)
	return s, err
}

// UpsertSnapshot writes raw dimension scores; composites are recomputed for
// the whole cycle cohort afterwards.
func (r Repo) UpsertSnapshot(ctx context.Context, s domain.ScoreSnapshot) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO score_snapshots(`+scoreCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(epoch_id,world_id,cycle) DO UPDATE SET stability=excluded.stability, influence=excluded.influence,
sovereignty=excluded.sovereignty, diplomatic=excluded.diplomatic, military=excluded.military, updated_at=excluded.updated_at`,
		s.EpochID, s.WorldID, s.Cycle, s.Stability, s.Influence, s.Sovereignty, s.Diplomatic, s.Military, s.Composite, s.UpdatedAt)
	return err
}

func (r Repo) SetComposite(ctx context.Context, epochID, worldID string, cycle int, composite float64, at string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE score_snapshots SET composite=?, updated_at=? WHERE epoch_id=? AND world_id=? AND cycle=?`,
		composite, at, epochID, worldID, cycle)
	return err
}

func (r Repo) ListCycleSnapshots(ctx context.Context, epochID string, cycle int) ([]domain.ScoreSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+scoreCols+` FROM score_snapshots WHERE epoch_id=? AND cycle=? ORDER BY world_id`, epochID, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScoreSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ScoreHistory returns all snapshots for a world in an epoch, oldest first.
func (r Repo) ScoreHistory(ctx context.Context, epochID, worldID string) ([]domain.ScoreSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+scoreCols+` FROM score_snapshots WHERE epoch_id=? AND world_id=? ORDER BY cycle`, epochID, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScoreSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
