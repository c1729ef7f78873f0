package engine

import (
	"context"
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"echowar/internal/battlelog"
	"echowar/internal/config"
	"echowar/internal/domain"
	"echowar/internal/repo"
)

// thresholdFloor is the lowest a connection's impact threshold can be driven
// by instability and embassy modifiers.
const thresholdFloor = 5

// ComputeEchoStrength is the bleed strength formula. Resonance saturates at 3;
// decay compounds per cascade depth, so strength never grows down a chain.
func ComputeEchoStrength(connStrength, embassyEff float64, resonance, depth int, decay, instability float64) float64 {
	if resonance > 3 {
		resonance = 3
	}
	s := connStrength *
		(1 + 0.3*embassyEff) *
		(1 + 0.2*float64(resonance)) *
		math.Pow(decay, float64(depth)) *
		(1 + 0.2*instability)
	return clamp(s, 0, 1)
}

// selectVector picks the bleed channel with the highest tag resonance.
// Declaration order breaks ties.
func selectVector(tags []string) (string, int) {
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	best := echoVectors[0].Name
	bestRes := 0
	for _, v := range echoVectors {
		res := 0
		for _, kw := range v.Keywords {
			if _, ok := tagSet[kw]; ok {
				res++
			}
		}
		if res > bestRes {
			best, bestRes = v.Name, res
		}
	}
	return best, bestRes
}

// EvaluateEvent runs the bleed gates for one world event and creates pending
// echoes for every accepted cross-world connection. Also the backing for the
// manual trigger endpoint.
func (e Engine) EvaluateEvent(ctx context.Context, epochID, eventID string) ([]domain.Echo, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	if ep.Terminal() || ep.Status == domain.EpochLobby {
		return nil, PhaseViolation{Phase: ep.Status, Op: "evaluate echoes"}
	}
	cfg, err := config.FromJSON([]byte(ep.ConfigJSON))
	if err != nil {
		return nil, err
	}
	ev, err := e.Repo.GetWorldEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	minImpact := 1
	if ev.CampaignID != nil {
		minImpact++
	}
	if ev.Impact < minImpact {
		return nil, nil
	}
	world, err := e.Repo.GetWorld(ctx, ev.WorldID)
	if err != nil {
		return nil, err
	}
	if !world.BleedEnabled {
		return nil, nil
	}
	if ev.EchoDepth >= cfg.MaxEchoDepth {
		return nil, nil
	}
	metrics, err := e.Metrics.WorldMetrics(ctx, ev.WorldID)
	if err != nil {
		return nil, err
	}
	conns, err := e.Repo.ActiveConnections(ctx, ev.WorldID)
	if err != nil {
		return nil, err
	}
	var tags []string
	_ = json.Unmarshal([]byte(ev.TagsJSON), &tags)
	rootID := ev.ID
	if ev.RootEventID != nil {
		rootID = *ev.RootEventID
	}
	depth := ev.EchoDepth + 1

	var created []domain.Echo
	for _, conn := range conns {
		emb := metrics.EmbassyEffectiveness[conn.TargetWorldID]
		threshold := conn.BaseThreshold
		if metrics.Instability > 0.7 {
			threshold--
		}
		if emb > 0.8 {
			threshold--
		}
		if threshold < thresholdFloor {
			threshold = thresholdFloor
		}
		switch {
		case ev.Impact >= threshold:
		case ev.Impact >= threshold-2:
			p := 0.15 * conn.Strength * (1 + 0.5*emb) * (1 + 0.3*metrics.Instability)
			if e.roll() > p {
				continue
			}
		default:
			continue
		}
		vector, resonance := selectVector(tags)
		now := e.nowRFC3339()
		echo := domain.Echo{
			ID:            uuid.New().String(),
			EpochID:       epochID,
			SourceEventID: ev.ID,
			RootEventID:   rootID,
			SourceWorldID: ev.WorldID,
			TargetWorldID: conn.TargetWorldID,
			Vector:        vector,
			Strength:      ComputeEchoStrength(conn.Strength, emb, resonance, depth, cfg.EchoDecay, metrics.Instability),
			Depth:         depth,
			Status:        domain.EchoPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return created, err
		}
		if err := e.Repo.InsertEcho(ctx, tx, echo); err != nil {
			tx.Rollback()
			return created, err
		}
		if err := e.Log.Append(ctx, tx, battlelog.Entry{
			EpochID:       epochID,
			Cycle:         ep.CurrentCycle,
			EventType:     "echo.pending",
			SourceWorldID: ev.WorldID,
			TargetWorldID: conn.TargetWorldID,
			Narrative:     "Something stirs along the " + vector + " routes between worlds.",
			Public:        false,
			Metadata:      battlelog.Metadata{"echo_id": echo.ID, "strength": echo.Strength},
		}); err != nil {
			tx.Rollback()
			return created, err
		}
		if err := tx.Commit(); err != nil {
			return created, err
		}
		created = append(created, echo)
	}
	return created, nil
}

// ApproveEcho transforms the source event through the vector's lens and lands
// it in the target world. Completed echoes are terminal; re-approval is a
// conflict, never a second transformation.
func (e Engine) ApproveEcho(ctx context.Context, echoID string) (domain.Echo, error) {
	echo, err := e.Repo.GetEcho(ctx, echoID)
	if err != nil {
		return domain.Echo{}, err
	}
	if echo.Status != domain.EchoPending {
		return domain.Echo{}, ConflictState{Entity: "echo " + echoID, Status: echo.Status, Op: "approve"}
	}
	ok, err := e.Repo.TransitionEcho(ctx, echoID, domain.EchoPending, domain.EchoGenerating, e.nowRFC3339())
	if err != nil {
		return domain.Echo{}, err
	}
	if !ok {
		fresh, err := e.Repo.GetEcho(ctx, echoID)
		if err != nil {
			return domain.Echo{}, err
		}
		return domain.Echo{}, ConflictState{Entity: "echo " + echoID, Status: fresh.Status, Op: "approve"}
	}

	source, err := e.Repo.GetWorldEvent(ctx, echo.SourceEventID)
	if err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	target, err := e.Repo.GetWorld(ctx, echo.TargetWorldID)
	if err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	lens := config.ResolveLens(echo.TargetWorldID, echo.Vector, e.worldLensResolver(ctx))
	tctx, cancel := context.WithTimeout(ctx, transformTimeout)
	defer cancel()
	result, err := e.Transformer.Transform(tctx, TransformRequest{
		SourceTitle:       source.Title,
		SourceDescription: source.Description,
		Vector:            echo.Vector,
		LensPrompt:        lens,
		TargetWorldName:   target.Name,
		TargetProfile:     target.Profile,
	})
	if err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}

	impact := int(math.Round(float64(source.Impact) * echo.Strength))
	if impact < 1 {
		impact = 1
	}
	targetEvent := domain.WorldEvent{
		ID:          uuid.New().String(),
		WorldID:     echo.TargetWorldID,
		Title:       result.Title,
		Description: result.Description,
		Impact:      impact,
		TagsJSON:    source.TagsJSON,
		EchoDepth:   echo.Depth,
		RootEventID: &echo.RootEventID,
		CreatedAt:   e.nowRFC3339(),
	}
	ep, err := e.Repo.GetEpoch(ctx, echo.EpochID)
	if err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorldEvent(ctx, tx, targetEvent); err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	if err := e.Repo.CompleteEcho(ctx, tx, echo.ID, targetEvent.ID, e.nowRFC3339()); err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	if err := e.Log.Append(ctx, tx, battlelog.Entry{
		EpochID:       echo.EpochID,
		Cycle:         ep.CurrentCycle,
		EventType:     "echo.completed",
		SourceWorldID: echo.SourceWorldID,
		TargetWorldID: echo.TargetWorldID,
		Narrative:     result.Title,
		Public:        true,
		Metadata:      battlelog.Metadata{"echo_id": echo.ID, "vector": echo.Vector, "target_event_id": targetEvent.ID},
	}); err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Echo{}, e.failEcho(ctx, echo, err)
	}
	echo.Status = domain.EchoCompleted
	echo.TargetEventID = &targetEvent.ID
	return echo, nil
}

// failEcho records the captured error on the echo row and wraps it. The echo
// is never silently dropped.
func (e Engine) failEcho(ctx context.Context, echo domain.Echo, cause error) error {
	wrapped := ExternalServiceFailure{Service: "content transformation", Err: cause}
	if err := e.Repo.FailEcho(ctx, echo.ID, wrapped.Error(), e.nowRFC3339()); err != nil {
		e.logger().Printf("mark echo %s failed: %v", echo.ID, err)
	}
	return wrapped
}

// RejectEcho declines a pending echo without side effects.
func (e Engine) RejectEcho(ctx context.Context, echoID string) (domain.Echo, error) {
	echo, err := e.Repo.GetEcho(ctx, echoID)
	if err != nil {
		return domain.Echo{}, err
	}
	if echo.Status != domain.EchoPending {
		return domain.Echo{}, ConflictState{Entity: "echo " + echoID, Status: echo.Status, Op: "reject"}
	}
	ok, err := e.Repo.TransitionEcho(ctx, echoID, domain.EchoPending, domain.EchoRejected, e.nowRFC3339())
	if err != nil {
		return domain.Echo{}, err
	}
	if !ok {
		return domain.Echo{}, ErrConcurrentModification
	}
	echo.Status = domain.EchoRejected
	echo.UpdatedAt = e.nowRFC3339()
	return echo, nil
}

// worldLensResolver reads per-world lens overrides from the store.
func (e Engine) worldLensResolver(ctx context.Context) config.LensResolver {
	return func(worldID, vector string) (string, bool) {
		prompt, err := e.Repo.GetWorldLens(ctx, worldID, vector)
		if err != nil {
			if err != repo.ErrNotFound {
				e.logger().Printf("lens lookup %s/%s: %v", worldID, vector, err)
			}
			return "", false
		}
		return prompt, true
	}
}
