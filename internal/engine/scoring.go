package engine

import (
	"context"
	"sort"

	"echowar/internal/config"
	"echowar/internal/domain"
)

// rawScores computes a participant's five dimension scores before cohort
// normalization.
func (e Engine) rawScores(ctx context.Context, epochID, worldID string) (domain.ScoreSnapshot, error) {
	s := domain.ScoreSnapshot{EpochID: epochID, WorldID: worldID}

	metrics, err := e.Metrics.WorldMetrics(ctx, worldID)
	if err != nil {
		return s, err
	}
	s.Stability = (1 - metrics.Instability) * 100

	s.Influence, err = e.Repo.SumCompletedOutboundStrength(ctx, epochID, worldID)
	if err != nil {
		return s, err
	}

	bleed, total, err := e.Repo.EventImpactTotals(ctx, worldID)
	if err != nil {
		return s, err
	}
	if total == 0 {
		s.Sovereignty = 100
	} else {
		s.Sovereignty = 100 * (1 - float64(bleed)/float64(total))
	}

	var effSum float64
	for _, eff := range metrics.EmbassyEffectiveness {
		effSum += eff
	}
	if effSum > 0 {
		s.Diplomatic = effSum * 10
	} else {
		embassies, err := e.Repo.ListEmbassies(ctx, worldID)
		if err != nil {
			return s, err
		}
		s.Diplomatic = float64(len(embassies)) * 0.5
	}

	successes, exposed, err := e.Repo.MissionOutcomeCounts(ctx, epochID, worldID)
	if err != nil {
		return s, err
	}
	for opType, n := range successes {
		if op, ok := Operative(opType); ok {
			s.Military += float64(n) * op.SuccessScore
		}
	}
	s.Military -= float64(exposed) * DetectionPenalty
	if s.Military < 0 {
		s.Military = 0
	}
	return s, nil
}

// ComputeScores snapshots every participant's raw dimensions for the current
// cycle, then recomputes composites across the whole cohort. Composites use
// cohort-max normalization so a dimension nobody scored stays at zero.
func (e Engine) ComputeScores(ctx context.Context, epochID string) ([]domain.ScoreSnapshot, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	if ep.Status == domain.EpochLobby {
		return nil, PhaseViolation{Phase: ep.Status, Op: "compute scores"}
	}
	cfg, err := config.FromJSON([]byte(ep.ConfigJSON))
	if err != nil {
		return nil, err
	}
	participants, err := e.Repo.ListParticipants(ctx, epochID)
	if err != nil {
		return nil, err
	}
	now := e.nowRFC3339()
	for _, p := range participants {
		s, err := e.rawScores(ctx, epochID, p.WorldID)
		if err != nil {
			e.logger().Printf("score %s/%s: %v", epochID, p.WorldID, err)
			continue
		}
		s.Cycle = ep.CurrentCycle
		s.UpdatedAt = now
		if err := e.Repo.UpsertSnapshot(ctx, s); err != nil {
			return nil, err
		}
	}
	return e.recomputeComposites(ctx, epochID, ep.CurrentCycle, cfg.ScoreWeights)
}

// recomputeComposites normalizes each dimension against the cycle cohort's
// maximum and stores the weighted composite.
func (e Engine) recomputeComposites(ctx context.Context, epochID string, cycle int, weights config.ScoreWeights) ([]domain.ScoreSnapshot, error) {
	snapshots, err := e.Repo.ListCycleSnapshots(ctx, epochID, cycle)
	if err != nil {
		return nil, err
	}
	var maxStab, maxInf, maxSov, maxDip, maxMil float64
	for _, s := range snapshots {
		maxStab = maxF(maxStab, s.Stability)
		maxInf = maxF(maxInf, s.Influence)
		maxSov = maxF(maxSov, s.Sovereignty)
		maxDip = maxF(maxDip, s.Diplomatic)
		maxMil = maxF(maxMil, s.Military)
	}
	now := e.nowRFC3339()
	for i, s := range snapshots {
		composite := (float64(weights.Stability)*normalize(s.Stability, maxStab) +
			float64(weights.Influence)*normalize(s.Influence, maxInf) +
			float64(weights.Sovereignty)*normalize(s.Sovereignty, maxSov) +
			float64(weights.Diplomatic)*normalize(s.Diplomatic, maxDip) +
			float64(weights.Military)*normalize(s.Military, maxMil)) / 100
		if err := e.Repo.SetComposite(ctx, epochID, s.WorldID, cycle, composite, now); err != nil {
			return nil, err
		}
		snapshots[i].Composite = composite
		snapshots[i].UpdatedAt = now
	}
	return snapshots, nil
}

// normalize scales a raw score to 0-100 against the cohort maximum; a zero
// maximum leaves everyone at zero.
func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max * 100
}

func maxF(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

// LeaderboardRow is one ranked leaderboard line.
type LeaderboardRow struct {
	Rank      int     `json:"rank"`
	WorldID   string  `json:"world_id"`
	WorldName string  `json:"world_name"`
	TeamName  string  `json:"team_name,omitempty"`
	Composite float64 `json:"composite"`
}

// Leaderboard ranks the current cycle's snapshots by composite, descending,
// enriched with world and team names.
func (e Engine) Leaderboard(ctx context.Context, epochID string) ([]LeaderboardRow, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	snapshots, err := e.Repo.ListCycleSnapshots(ctx, epochID, ep.CurrentCycle)
	if err != nil {
		return nil, err
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Composite != snapshots[j].Composite {
			return snapshots[i].Composite > snapshots[j].Composite
		}
		return snapshots[i].WorldID < snapshots[j].WorldID
	})
	rows := make([]LeaderboardRow, 0, len(snapshots))
	for i, s := range snapshots {
		row := LeaderboardRow{Rank: i + 1, WorldID: s.WorldID, Composite: s.Composite}
		if w, err := e.Repo.GetWorld(ctx, s.WorldID); err == nil {
			row.WorldName = w.Name
		}
		if p, err := e.Repo.GetParticipant(ctx, epochID, s.WorldID); err == nil && p.TeamID != nil {
			if t, err := e.Repo.GetTeam(ctx, *p.TeamID); err == nil {
				row.TeamName = t.Name
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DimensionAward names the top scorer of one dimension in the final standings.
type DimensionAward struct {
	Dimension string  `json:"dimension"`
	Title     string  `json:"title"`
	WorldID   string  `json:"world_id"`
	Score     float64 `json:"score"`
}

// Standings is the sealed end-of-epoch result: the final leaderboard plus
// per-dimension titles.
type Standings struct {
	Leaderboard []LeaderboardRow `json:"leaderboard"`
	Awards      []DimensionAward `json:"awards"`
}

// FinalStandings is available only once the epoch is completed or cancelled.
func (e Engine) FinalStandings(ctx context.Context, epochID string) (Standings, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return Standings{}, err
	}
	if !ep.Terminal() {
		return Standings{}, PhaseViolation{Phase: ep.Status, Op: "final standings"}
	}
	board, err := e.Leaderboard(ctx, epochID)
	if err != nil {
		return Standings{}, err
	}
	snapshots, err := e.Repo.ListCycleSnapshots(ctx, epochID, ep.CurrentCycle)
	if err != nil {
		return Standings{}, err
	}
	standings := Standings{Leaderboard: board}
	for _, dim := range []string{"stability", "influence", "sovereignty", "diplomatic", "military"} {
		var best *domain.ScoreSnapshot
		for i := range snapshots {
			if best == nil || dimensionScore(snapshots[i], dim) > dimensionScore(*best, dim) {
				best = &snapshots[i]
			}
		}
		if best == nil {
			continue
		}
		standings.Awards = append(standings.Awards, DimensionAward{
			Dimension: dim,
			Title:     dimensionTitles[dim],
			WorldID:   best.WorldID,
			Score:     dimensionScore(*best, dim),
		})
	}
	return standings, nil
}

func dimensionScore(s domain.ScoreSnapshot, dim string) float64 {
	switch dim {
	case "stability":
		return s.Stability
	case "influence":
		return s.Influence
	case "sovereignty":
		return s.Sovereignty
	case "diplomatic":
		return s.Diplomatic
	case "military":
		return s.Military
	}
	return 0
}

// ScoreHistory returns a world's snapshots across cycles, oldest first.
func (e Engine) ScoreHistory(ctx context.Context, epochID, worldID string) ([]domain.ScoreSnapshot, error) {
	if _, err := e.Repo.GetEpoch(ctx, epochID); err != nil {
		return nil, err
	}
	return e.Repo.ScoreHistory(ctx, epochID, worldID)
}

// FinalizeScores runs a last compute pass and freezes each participant's final
// snapshot on the participant row.
func (e Engine) FinalizeScores(ctx context.Context, epochID string) error {
	snapshots, err := e.ComputeScores(ctx, epochID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, s := range snapshots {
		if err := e.Repo.SetFinalScores(ctx, tx, epochID, s.WorldID, marshalJSON(s)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
