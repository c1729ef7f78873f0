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

// DeployRequest describes one operative deployment. Target fields depend on
// the operative type: sabotage hits a building, subversion a relationship,
// embassy_strike an embassy, infiltration just a world. Garrison takes none.
type DeployRequest struct {
	EpochID       string
	WorldID       string
	AgentID       string
	OperativeType string
	TargetWorldID string
	TargetZoneID  string
	TargetID      string
}

// Deploy validates phase and target rules, debits the operative's cost and
// schedules the mission. The success probability is fixed here and never
// recomputed at resolution.
func (e Engine) Deploy(ctx context.Context, req DeployRequest) (domain.Mission, error) {
	op, ok := Operative(req.OperativeType)
	if !ok {
		return domain.Mission{}, ValidationError{Field: "operative_type", Reason: "unknown type " + req.OperativeType}
	}
	ep, err := e.Repo.GetEpoch(ctx, req.EpochID)
	if err != nil {
		return domain.Mission{}, err
	}
	switch ep.Status {
	case domain.EpochFoundation:
		if op.Name != OpGarrison {
			return domain.Mission{}, PhaseViolation{Phase: ep.Status, Op: "deploy " + op.Name, Detail: "only garrisons may deploy during foundation"}
		}
	case domain.EpochCompetition, domain.EpochReckoning:
	default:
		return domain.Mission{}, PhaseViolation{Phase: ep.Status, Op: "deploy " + op.Name}
	}
	cfg, err := config.FromJSON([]byte(ep.ConfigJSON))
	if err != nil {
		return domain.Mission{}, err
	}
	agent, err := e.Repo.GetAgent(ctx, req.AgentID)
	if err != nil {
		return domain.Mission{}, err
	}
	if agent.WorldID != req.WorldID {
		return domain.Mission{}, ValidationError{Field: "agent_id", Reason: "agent belongs to a different world"}
	}
	if _, err := e.Repo.NonTerminalMissionForAgent(ctx, req.EpochID, req.AgentID); err == nil {
		return domain.Mission{}, ConflictState{Entity: "agent " + req.AgentID, Status: "already on a mission", Op: "deploy"}
	} else if err != repo.ErrNotFound {
		return domain.Mission{}, err
	}

	m := domain.Mission{
		ID:            uuid.New().String(),
		EpochID:       req.EpochID,
		AgentID:       req.AgentID,
		OperativeType: op.Name,
		SourceWorldID: req.WorldID,
		Status:        domain.MissionDeploying,
	}
	var embassyEff float64
	if op.Offensive {
		if req.TargetWorldID == "" {
			return domain.Mission{}, ValidationError{Field: "target_world_id", Reason: op.Name + " requires a target world"}
		}
		if req.TargetWorldID == req.WorldID {
			return domain.Mission{}, ValidationError{Field: "target_world_id", Reason: "cannot target own world"}
		}
		if _, err := e.Repo.GetParticipant(ctx, req.EpochID, req.TargetWorldID); err != nil {
			if err == repo.ErrNotFound {
				return domain.Mission{}, ValidationError{Field: "target_world_id", Reason: "target world is not a participant"}
			}
			return domain.Mission{}, err
		}
		embassy, err := e.Repo.ActiveEmbassy(ctx, req.WorldID, req.TargetWorldID)
		if err != nil {
			if err == repo.ErrNotFound {
				return domain.Mission{}, ValidationError{Field: "target_world_id", Reason: "no active embassy toward target world"}
			}
			return domain.Mission{}, err
		}
		embassyEff = embassy.Effectiveness
		m.TargetWorldID = &req.TargetWorldID
		m.TargetZoneID = optional(req.TargetZoneID)
		if err := e.validateOperativeTarget(ctx, op.Name, req, &m); err != nil {
			return domain.Mission{}, err
		}
	} else if req.TargetWorldID != "" || req.TargetID != "" {
		return domain.Mission{}, ValidationError{Field: "target_world_id", Reason: "garrison defends its own world, no target allowed"}
	}

	zoneSecurity := 0
	if m.TargetZoneID != nil {
		zone, err := e.Repo.GetZone(ctx, *m.TargetZoneID)
		if err != nil {
			return domain.Mission{}, err
		}
		if zone.WorldID != req.TargetWorldID {
			return domain.Mission{}, ValidationError{Field: "target_zone_id", Reason: "zone belongs to a different world"}
		}
		zoneSecurity = zone.Security
	}
	garrisons := 0
	if op.Offensive {
		garrisons, err = e.Repo.CountActiveGarrisons(ctx, req.EpochID, req.TargetWorldID)
		if err != nil {
			return domain.Mission{}, err
		}
	}
	m.SuccessProbability = successProbability(agent.Qualification, zoneSecurity, garrisons, embassyEff)

	if _, err := e.Spend(ctx, req.EpochID, req.WorldID, op.RPCost); err != nil {
		return domain.Mission{}, err
	}
	now := e.now().UTC()
	m.CreatedAt = now.Format(time.RFC3339)
	m.ResolvesAt = now.Add(time.Duration(op.DeployCycles+op.ActiveCycles) * time.Duration(cfg.CycleHours) * time.Hour).Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.refund(ctx, req.EpochID, req.WorldID, op.RPCost)
		return domain.Mission{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		e.refund(ctx, req.EpochID, req.WorldID, op.RPCost)
		return domain.Mission{}, err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       req.EpochID,
		Cycle:         ep.CurrentCycle,
		EventType:     "mission.deployed",
		SourceWorldID: req.WorldID,
		TargetWorldID: strOrEmpty(m.TargetWorldID),
		MissionID:     m.ID,
		Narrative:     fmt.Sprintf("An operative slips into the night on a %s assignment.", op.Name),
		Public:        false,
		Metadata:      battlelog.Metadata{"operative_type": op.Name},
	}); err != nil {
		e.refund(ctx, req.EpochID, req.WorldID, op.RPCost)
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		e.refund(ctx, req.EpochID, req.WorldID, op.RPCost)
		return domain.Mission{}, err
	}
	return m, nil
}

func (e Engine) validateOperativeTarget(ctx context.Context, opType string, req DeployRequest, m *domain.Mission) error {
	switch opType {
	case OpSabotage:
		if req.TargetID == "" {
			return ValidationError{Field: "target_id", Reason: "sabotage requires a target building"}
		}
		b, err := e.Repo.GetBuilding(ctx, req.TargetID)
		if err != nil {
			return err
		}
		if b.WorldID != req.TargetWorldID {
			return ValidationError{Field: "target_id", Reason: "building belongs to a different world"}
		}
		m.TargetEntityID = &req.TargetID
		if m.TargetZoneID == nil {
			m.TargetZoneID = &b.ZoneID
		}
	case OpSubversion:
		if req.TargetID == "" {
			return ValidationError{Field: "target_id", Reason: "subversion requires a target relationship"}
		}
		rel, err := e.Repo.GetRelationship(ctx, req.TargetID)
		if err != nil {
			return err
		}
		if rel.WorldID != req.TargetWorldID {
			return ValidationError{Field: "target_id", Reason: "relationship belongs to a different world"}
		}
		m.TargetEntityID = &req.TargetID
	case OpEmbassyStrike:
		// The strike hits the target world's embassy network; the attacker's
		// own route embassy is the way in, not the victim.
		targetID := req.TargetID
		if targetID == "" {
			emb, err := e.Repo.ActiveEmbassy(ctx, req.TargetWorldID, req.WorldID)
			if err != nil {
				if err == repo.ErrNotFound {
					return ValidationError{Field: "target_id", Reason: "target world has no active embassy to strike"}
				}
				return err
			}
			targetID = emb.ID
		} else {
			emb, err := e.Repo.GetEmbassy(ctx, targetID)
			if err != nil {
				return err
			}
			if emb.WorldID != req.TargetWorldID {
				return ValidationError{Field: "target_id", Reason: "embassy belongs to a different world"}
			}
		}
		m.TargetEmbassyID = &targetID
	case OpInfiltration:
		// Whole-world intel sweep; no entity target.
	}
	return nil
}

func successProbability(qualification, zoneSecurity, garrisons int, embassyEff float64) float64 {
	p := 0.5 +
		float64(qualification)*0.05 -
		float64(zoneSecurity)*0.05 -
		float64(garrisons)*0.20 +
		embassyEff*0.15
	return clamp(p, 0.05, 0.95)
}

// MissionOutcome reports one mission's pass through resolve_pending.
type MissionOutcome struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ResolvePending advances every due mission. Deploying missions go active
// with no roll. Active missions are claimed with a status-guarded update so
// two concurrent sweeps resolve each mission exactly once; the loser skips.
// Returning missions complete their recall. One mission's failure never
// aborts the batch.
func (e Engine) ResolvePending(ctx context.Context, epochID string) ([]MissionOutcome, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	if ep.Terminal() || ep.Status == domain.EpochLobby {
		return nil, PhaseViolation{Phase: ep.Status, Op: "resolve missions"}
	}
	due, err := e.Repo.ListDueMissions(ctx, epochID, e.nowRFC3339())
	if err != nil {
		return nil, err
	}
	recalled, err := e.Repo.ListMissions(ctx, epochID, "", domain.MissionReturning)
	if err != nil {
		return nil, err
	}
	var outcomes []MissionOutcome
	for _, m := range due {
		out := MissionOutcome{MissionID: m.ID}
		switch m.Status {
		case domain.MissionDeploying:
			ok, err := e.Repo.TransitionMission(ctx, m.ID, domain.MissionDeploying, domain.MissionActive)
			if err != nil {
				out.Error = err.Error()
			} else if ok {
				out.Status = domain.MissionActive
			} else {
				continue
			}
		case domain.MissionActive:
			ok, err := e.Repo.TransitionMission(ctx, m.ID, domain.MissionActive, domain.MissionResolving)
			if err != nil {
				out.Error = err.Error()
				break
			}
			if !ok {
				continue
			}
			status, detail, err := e.resolveOne(ctx, ep, m)
			if err != nil {
				out.Error = err.Error()
				e.logger().Printf("resolve mission %s: %v", m.ID, err)
			} else {
				out.Status = status
				out.Outcome = detail
			}
		}
		outcomes = append(outcomes, out)
	}
	for _, m := range recalled {
		out := MissionOutcome{MissionID: m.ID}
		ok, err := e.Repo.TransitionMission(ctx, m.ID, domain.MissionReturning, domain.MissionResolving)
		if err != nil {
			out.Error = err.Error()
			outcomes = append(outcomes, out)
			continue
		}
		if !ok {
			continue
		}
		if err := e.finishMission(ctx, ep, m, domain.MissionFailed, "recalled", false); err != nil {
			out.Error = err.Error()
		} else {
			out.Status = domain.MissionFailed
			out.Outcome = "recalled"
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// resolveOne rolls a claimed mission and applies the side effect. Failure
// requires a second roll; a failed detection check against a garrisoned world
// means capture.
func (e Engine) resolveOne(ctx context.Context, ep domain.Epoch, m domain.Mission) (string, string, error) {
	p := m.SuccessProbability
	if e.roll() <= p {
		if err := e.applySideEffect(ctx, ep, m); err != nil {
			return "", "", err
		}
		return domain.MissionSuccess, m.OperativeType, nil
	}
	status := domain.MissionFailed
	if e.roll() <= p {
		status = domain.MissionDetected
		if m.TargetWorldID != nil {
			garrisons, err := e.Repo.CountActiveGarrisons(ctx, m.EpochID, *m.TargetWorldID)
			if err != nil {
				return "", "", err
			}
			if garrisons > 0 {
				status = domain.MissionCaptured
			}
		}
	}
	public := status == domain.MissionDetected || status == domain.MissionCaptured
	if err := e.finishMission(ctx, ep, m, status, status, public); err != nil {
		return "", "", err
	}
	return status, status, nil
}

func (e Engine) applySideEffect(ctx context.Context, ep domain.Epoch, m domain.Mission) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	narrative := "An operative returns with the job done."
	switch m.OperativeType {
	case OpSabotage:
		b, err := e.Repo.GetBuilding(ctx, *m.TargetEntityID)
		if err != nil {
			return err
		}
		next := degradeCondition(b.Condition)
		if err := e.Repo.SetBuildingCondition(ctx, tx, b.ID, next); err != nil {
			return err
		}
		narrative = fmt.Sprintf("%s stands %s after an unexplained incident.", b.Name, next)
	case OpSubversion:
		if err := e.Repo.AdjustRelationshipIntensity(ctx, tx, *m.TargetEntityID, -1); err != nil {
			return err
		}
		narrative = "A whispered word drives a wedge between old allies."
	case OpEmbassyStrike:
		if err := e.Repo.SetEmbassyStatus(ctx, tx, *m.TargetEmbassyID, "weakened"); err != nil {
			return err
		}
		narrative = "An embassy's seals are broken; its standing is weakened."
	case OpInfiltration:
		if err := e.Repo.SetWorldFlag(ctx, tx, *m.TargetWorldID, "intel_gathered", true); err != nil {
			return err
		}
		narrative = "Quiet eyes have mapped the halls of a rival power."
	case OpGarrison:
		narrative = "The home watch stands down after an uneventful tour."
	}
	result := marshalJSON(map[string]any{"outcome": domain.MissionSuccess, "operative_type": m.OperativeType})
	if err := e.Repo.FinishMission(ctx, tx, m.ID, domain.MissionSuccess, result, e.nowRFC3339()); err != nil {
		return err
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       ep.ID,
		Cycle:         ep.CurrentCycle,
		EventType:     "mission.resolved",
		SourceWorldID: m.SourceWorldID,
		TargetWorldID: strOrEmpty(m.TargetWorldID),
		MissionID:     m.ID,
		Narrative:     narrative,
		Public:        false,
		Metadata:      battlelog.Metadata{"outcome": domain.MissionSuccess, "operative_type": m.OperativeType},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if m.TargetWorldID != nil {
		e.invalidateMetrics(*m.TargetWorldID)
	}
	return nil
}

func (e Engine) finishMission(ctx context.Context, ep domain.Epoch, m domain.Mission, status, outcome string, public bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	result := marshalJSON(map[string]any{"outcome": outcome, "operative_type": m.OperativeType})
	if err := e.Repo.FinishMission(ctx, tx, m.ID, status, result, e.nowRFC3339()); err != nil {
		return err
	}
	narrative := "An operative fades back home empty-handed."
	switch status {
	case domain.MissionDetected:
		narrative = "A foreign operative has been unmasked."
	case domain.MissionCaptured:
		narrative = "Garrison patrols have taken a foreign operative alive."
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       ep.ID,
		Cycle:         ep.CurrentCycle,
		EventType:     "mission.resolved",
		SourceWorldID: m.SourceWorldID,
		TargetWorldID: strOrEmpty(m.TargetWorldID),
		MissionID:     m.ID,
		Narrative:     narrative,
		Public:        public,
		Metadata:      battlelog.Metadata{"outcome": outcome, "operative_type": m.OperativeType},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Recall pulls a mission back before it resolves. Permitted only while
// deploying or active; the returning mission completes on the next sweep.
func (e Engine) Recall(ctx context.Context, missionID string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return domain.Mission{}, err
	}
	switch m.Status {
	case domain.MissionDeploying, domain.MissionActive:
	default:
		return domain.Mission{}, ConflictState{Entity: "mission " + missionID, Status: m.Status, Op: "recall"}
	}
	ok, err := e.Repo.TransitionMission(ctx, missionID, m.Status, domain.MissionReturning)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, ErrConcurrentModification
	}
	m.Status = domain.MissionReturning
	return m, nil
}

// CounterIntel runs a defensive sweep: spends a fixed cost and flips every
// inbound deploying or active mission to detected. Detections are public.
func (e Engine) CounterIntel(ctx context.Context, epochID, worldID string) ([]domain.Mission, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	if ep.Terminal() || ep.Status == domain.EpochLobby {
		return nil, PhaseViolation{Phase: ep.Status, Op: "counter-intel sweep"}
	}
	if _, err := e.Spend(ctx, epochID, worldID, CounterIntelCost); err != nil {
		return nil, err
	}
	inbound, err := e.Repo.ListInboundMissions(ctx, epochID, worldID)
	if err != nil {
		return nil, err
	}
	var caught []domain.Mission
	for _, m := range inbound {
		ok, err := e.Repo.TransitionMission(ctx, m.ID, m.Status, domain.MissionResolving)
		if err != nil {
			e.logger().Printf("counter-intel claim %s: %v", m.ID, err)
			continue
		}
		if !ok {
			continue
		}
		if err := e.finishMission(ctx, ep, m, domain.MissionDetected, "counter_intel", true); err != nil {
			e.logger().Printf("counter-intel finish %s: %v", m.ID, err)
			continue
		}
		m.Status = domain.MissionDetected
		caught = append(caught, m)
	}
	return caught, nil
}

func (e Engine) invalidateMetrics(worldID string) {
	if cache, ok := e.Metrics.(*MetricsCache); ok {
		cache.Invalidate(worldID)
	}
}
