package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"echowar/internal/battlelog"
	"echowar/internal/config"
	"echowar/internal/domain"
	"echowar/internal/repo"
)

// foundationGrantMultiplier boosts cycle grants while worlds build up.
const foundationGrantMultiplier = 1.5

// ensureEpochTransition guards the one-directional phase machine. Cancel is
// reachable from any non-terminal state.
func ensureEpochTransition(oldStatus, newStatus string) error {
	if newStatus == domain.EpochCancelled {
		switch oldStatus {
		case domain.EpochCompleted, domain.EpochCancelled:
			return PhaseViolation{Phase: oldStatus, Op: "cancel"}
		}
		return nil
	}
	switch oldStatus {
	case domain.EpochLobby:
		if newStatus == domain.EpochFoundation {
			return nil
		}
	case domain.EpochFoundation:
		if newStatus == domain.EpochCompetition {
			return nil
		}
	case domain.EpochCompetition:
		if newStatus == domain.EpochReckoning {
			return nil
		}
	case domain.EpochReckoning:
		if newStatus == domain.EpochCompleted {
			return nil
		}
	}
	return PhaseViolation{Phase: oldStatus, Op: "transition to " + newStatus}
}

// CreateEpoch creates an epoch in lobby with a validated config.
func (e Engine) CreateEpoch(ctx context.Context, name string, cfg config.EpochConfig) (domain.Epoch, error) {
	if name == "" {
		return domain.Epoch{}, ValidationError{Field: "name", Reason: "required"}
	}
	if err := cfg.Validate(); err != nil {
		return domain.Epoch{}, ValidationError{Field: "config", Reason: err.Error()}
	}
	now := e.nowRFC3339()
	ep := domain.Epoch{
		ID:         uuid.New().String(),
		Name:       name,
		Status:     domain.EpochLobby,
		ConfigJSON: cfg.JSON(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertEpoch(ctx, ep); err != nil {
		return domain.Epoch{}, err
	}
	return ep, nil
}

// UpdateEpochConfig replaces the config document; permitted only in lobby.
func (e Engine) UpdateEpochConfig(ctx context.Context, epochID string, cfg config.EpochConfig) (domain.Epoch, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Epoch{}, ValidationError{Field: "config", Reason: err.Error()}
	}
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return domain.Epoch{}, err
	}
	if ep.Status != domain.EpochLobby {
		return domain.Epoch{}, PhaseViolation{Phase: ep.Status, Op: "edit config"}
	}
	ep.ConfigJSON = cfg.JSON()
	ep.UpdatedAt = e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Epoch{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEpochTx(ctx, tx, ep); err != nil {
		return domain.Epoch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Epoch{}, err
	}
	return ep, nil
}

// Join adds a world to the epoch; lobby only.
func (e Engine) Join(ctx context.Context, epochID, worldID string) (domain.Participant, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return domain.Participant{}, err
	}
	if ep.Status != domain.EpochLobby {
		return domain.Participant{}, PhaseViolation{Phase: ep.Status, Op: "join epoch"}
	}
	if _, err := e.Repo.GetWorld(ctx, worldID); err != nil {
		return domain.Participant{}, err
	}
	if _, err := e.Repo.GetParticipant(ctx, epochID, worldID); err == nil {
		return domain.Participant{}, ConflictState{Entity: "participant " + worldID, Status: "already joined", Op: "join epoch"}
	} else if err != repo.ErrNotFound {
		return domain.Participant{}, err
	}
	p := domain.Participant{
		EpochID:  epochID,
		WorldID:  worldID,
		JoinedAt: e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       epochID,
		Cycle:         ep.CurrentCycle,
		EventType:     "epoch.joined",
		SourceWorldID: worldID,
		Narrative:     fmt.Sprintf("A new world enters the lobby of %s.", ep.Name),
		Public:        true,
	}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

// Leave removes a participant; lobby only.
func (e Engine) Leave(ctx context.Context, epochID, worldID string) error {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return err
	}
	if ep.Status != domain.EpochLobby {
		return PhaseViolation{Phase: ep.Status, Op: "leave epoch"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteParticipant(ctx, tx, epochID, worldID); err != nil {
		return err
	}
	return tx.Commit()
}

// teamPhaseOK: team membership changes are allowed through foundation.
func teamPhaseOK(status string) bool {
	return status == domain.EpochLobby || status == domain.EpochFoundation
}

// CreateTeam founds a team with the calling world as first member.
func (e Engine) CreateTeam(ctx context.Context, epochID, worldID, name string) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, ValidationError{Field: "name", Reason: "required"}
	}
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return domain.Team{}, err
	}
	if !teamPhaseOK(ep.Status) {
		return domain.Team{}, PhaseViolation{Phase: ep.Status, Op: "create team"}
	}
	p, err := e.Repo.GetParticipant(ctx, epochID, worldID)
	if err != nil {
		return domain.Team{}, err
	}
	if p.TeamID != nil {
		return domain.Team{}, ConflictState{Entity: "participant " + worldID, Status: "already on a team", Op: "create team"}
	}
	t := domain.Team{
		ID:             uuid.New().String(),
		EpochID:        epochID,
		Name:           name,
		FounderWorldID: worldID,
		CreatedAt:      e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.SetParticipantTeam(ctx, tx, epochID, worldID, &t.ID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       epochID,
		Cycle:         ep.CurrentCycle,
		EventType:     "team.formed",
		SourceWorldID: worldID,
		Narrative:     fmt.Sprintf("The alliance %q is forged.", name),
		Public:        true,
	}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

// JoinTeam adds a participant to an existing team, respecting max_team_size.
// Switching teams requires allow_betrayal.
func (e Engine) JoinTeam(ctx context.Context, epochID, worldID, teamID string) error {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return err
	}
	if !teamPhaseOK(ep.Status) {
		return PhaseViolation{Phase: ep.Status, Op: "join team"}
	}
	cfg, err := config.FromJSON([]byte(ep.ConfigJSON))
	if err != nil {
		return err
	}
	t, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if t.EpochID != epochID {
		return ValidationError{Field: "team_id", Reason: "team belongs to a different epoch"}
	}
	if t.DissolvedAt != nil {
		return ConflictState{Entity: "team " + teamID, Status: "dissolved", Op: "join team"}
	}
	p, err := e.Repo.GetParticipant(ctx, epochID, worldID)
	if err != nil {
		return err
	}
	if p.TeamID != nil {
		if *p.TeamID == teamID {
			return ConflictState{Entity: "participant " + worldID, Status: "already a member", Op: "join team"}
		}
		if !cfg.AllowBetrayal {
			return ConflictState{Entity: "participant " + worldID, Status: "already on a team", Op: "join team"}
		}
	}
	members, err := e.Repo.CountTeamMembers(ctx, teamID)
	if err != nil {
		return err
	}
	if members >= cfg.MaxTeamSize {
		return ConflictState{Entity: "team " + teamID, Status: "full", Op: "join team"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetParticipantTeam(ctx, tx, epochID, worldID, &teamID); err != nil {
		return err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       epochID,
		Cycle:         ep.CurrentCycle,
		EventType:     "team.joined",
		SourceWorldID: worldID,
		Narrative:     fmt.Sprintf("A world pledges itself to %q.", t.Name),
		Public:        true,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// LeaveTeam drops team membership; dissolves the team when the founder leaves.
func (e Engine) LeaveTeam(ctx context.Context, epochID, worldID string) error {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return err
	}
	if !teamPhaseOK(ep.Status) {
		return PhaseViolation{Phase: ep.Status, Op: "leave team"}
	}
	p, err := e.Repo.GetParticipant(ctx, epochID, worldID)
	if err != nil {
		return err
	}
	if p.TeamID == nil {
		return ConflictState{Entity: "participant " + worldID, Status: "not on a team", Op: "leave team"}
	}
	t, err := e.Repo.GetTeam(ctx, *p.TeamID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if t.FounderWorldID == worldID {
		if err := e.Repo.DissolveTeam(ctx, tx, t.ID, e.nowRFC3339()); err != nil {
			return err
		}
	} else if err := e.Repo.SetParticipantTeam(ctx, tx, epochID, worldID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Start moves the epoch into foundation after cloning participant worlds into
// isolated game instances. Requires at least two participants.
func (e Engine) Start(ctx context.Context, epochID string) (domain.Epoch, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return domain.Epoch{}, err
	}
	if err := ensureEpochTransition(ep.Status, domain.EpochFoundation); err != nil {
		return domain.Epoch{}, err
	}
	participants, err := e.Repo.ListParticipants(ctx, epochID)
	if err != nil {
		return domain.Epoch{}, err
	}
	if len(participants) < 2 {
		return domain.Epoch{}, PhaseViolation{Phase: ep.Status, Op: "start epoch", Detail: "need >=2 participants"}
	}
	cfg, err := config.FromJSON([]byte(ep.ConfigJSON))
	if err != nil {
		return domain.Epoch{}, err
	}
	worldIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		worldIDs = append(worldIDs, p.WorldID)
	}
	if err := e.Cloner.Clone(ctx, epochID, worldIDs); err != nil {
		return domain.Epoch{}, ExternalServiceFailure{Service: "instance cloner", Err: err}
	}
	now := e.now().UTC()
	started := now.Format(time.RFC3339)
	ends := now.Add(time.Duration(cfg.DurationDays) * 24 * time.Hour).Format(time.RFC3339)
	ep.Status = domain.EpochFoundation
	ep.StartedAt = &started
	ep.EndsAt = &ends
	ep.UpdatedAt = started
	return e.commitPhaseChange(ctx, ep, "The epoch begins. Foundations are laid.")
}

// Advance steps the phase machine forward one phase. Completing the epoch
// archives instances and freezes final scores.
func (e Engine) Advance(ctx context.Context, epochID string) (domain.Epoch, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return domain.Epoch{}, err
	}
	var next string
	switch ep.Status {
	case domain.EpochFoundation:
		next = domain.EpochCompetition
	case domain.EpochCompetition:
		next = domain.EpochReckoning
	case domain.EpochReckoning:
		next = domain.EpochCompleted
	default:
		return domain.Epoch{}, PhaseViolation{Phase: ep.Status, Op: "advance"}
	}
	if err := ensureEpochTransition(ep.Status, next); err != nil {
		return domain.Epoch{}, err
	}
	now := e.nowRFC3339()
	ep.Status = next
	ep.UpdatedAt = now
	if next == domain.EpochCompleted {
		ep.EndedAt = &now
		if err := e.Cloner.Archive(ctx, epochID); err != nil {
			return domain.Epoch{}, ExternalServiceFailure{Service: "instance cloner", Err: err}
		}
	}
	ep, err = e.commitPhaseChange(ctx, ep, phaseNarrative(next))
	if err != nil {
		return domain.Epoch{}, err
	}
	if next == domain.EpochCompleted {
		if err := e.FinalizeScores(ctx, epochID); err != nil {
			e.logger().Printf("finalize scores for epoch %s: %v", epochID, err)
		}
	}
	return ep, nil
}

// Cancel aborts the epoch from any non-terminal state and deletes instances.
func (e Engine) Cancel(ctx context.Context, epochID string) (domain.Epoch, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return domain.Epoch{}, err
	}
	if err := ensureEpochTransition(ep.Status, domain.EpochCancelled); err != nil {
		return domain.Epoch{}, err
	}
	if err := e.Cloner.Delete(ctx, epochID); err != nil {
		return domain.Epoch{}, ExternalServiceFailure{Service: "instance cloner", Err: err}
	}
	now := e.nowRFC3339()
	ep.Status = domain.EpochCancelled
	ep.EndedAt = &now
	ep.UpdatedAt = now
	return e.commitPhaseChange(ctx, ep, "The epoch is called off before its reckoning.")
}

func phaseNarrative(status string) string {
	switch status {
	case domain.EpochCompetition:
		return "Foundation ends. The competition is open."
	case domain.EpochReckoning:
		return "The reckoning begins. Scores will soon be sealed."
	case domain.EpochCompleted:
		return "The epoch is complete. Final standings are sealed."
	}
	return "The epoch shifts."
}

func (e Engine) commitPhaseChange(ctx context.Context, ep domain.Epoch, narrative string) (domain.Epoch, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Epoch{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEpochTx(ctx, tx, ep); err != nil {
		return domain.Epoch{}, err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:   ep.ID,
		Cycle:     ep.CurrentCycle,
		EventType: "epoch.phase",
		Narrative: narrative,
		Public:    true,
		Metadata:  battlelog.Metadata{"status": ep.Status},
	}); err != nil {
		return domain.Epoch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Epoch{}, err
	}
	return ep, nil
}

// GrantOutcome reports one participant's cycle grant; failures are per-unit.
type GrantOutcome struct {
	WorldID string `json:"world_id"`
	Granted int    `json:"granted"`
	Balance int    `json:"balance"`
	Error   string `json:"error,omitempty"`
}

// CycleResult summarizes a resolve_cycle pass.
type CycleResult struct {
	Cycle  int            `json:"cycle"`
	Grants []GrantOutcome `json:"grants"`
}

// ResolveCycle advances the cycle counter, grants RP to every participant
// (boosted during foundation) and clears cycle_ready flags. One participant's
// grant failure never aborts the pass.
func (e Engine) ResolveCycle(ctx context.Context, epochID string) (CycleResult, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return CycleResult{}, err
	}
	switch ep.Status {
	case domain.EpochFoundation, domain.EpochCompetition, domain.EpochReckoning:
	default:
		return CycleResult{}, PhaseViolation{Phase: ep.Status, Op: "resolve cycle"}
	}
	cfg, err := config.FromJSON([]byte(ep.ConfigJSON))
	if err != nil {
		return CycleResult{}, err
	}
	amount := cfg.RPPerCycle
	if ep.Status == domain.EpochFoundation {
		amount = int(float64(amount) * foundationGrantMultiplier)
	}
	ep.CurrentCycle++
	ep.UpdatedAt = e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CycleResult{}, err
	}
	if err := e.Repo.UpdateEpochTx(ctx, tx, ep); err != nil {
		tx.Rollback()
		return CycleResult{}, err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:   epochID,
		Cycle:     ep.CurrentCycle,
		EventType: "cycle.resolved",
		Narrative: fmt.Sprintf("Cycle %d dawns across the epoch.", ep.CurrentCycle),
		Public:    true,
	}); err != nil {
		tx.Rollback()
		return CycleResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CycleResult{}, err
	}

	participants, err := e.Repo.ListParticipants(ctx, epochID)
	if err != nil {
		return CycleResult{}, err
	}
	result := CycleResult{Cycle: ep.CurrentCycle}
	for _, p := range participants {
		outcome := GrantOutcome{WorldID: p.WorldID}
		balance, err := e.Grant(ctx, epochID, p.WorldID, amount, cfg.RPCap)
		if err != nil {
			outcome.Error = err.Error()
			e.logger().Printf("cycle grant for %s/%s: %v", epochID, p.WorldID, err)
		} else {
			outcome.Granted = amount
			outcome.Balance = balance
		}
		result.Grants = append(result.Grants, outcome)
	}
	return result, nil
}
