package engine_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"echowar/internal/config"
	"echowar/internal/db"
	"echowar/internal/domain"
	"echowar/internal/engine"
	"echowar/internal/migrate"
	"echowar/internal/repo"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	Engine engine.Engine
	Clock  *fakeClock
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	eng := engine.New(conn)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng.Now = clock.now
	eng.Rand = func() float64 { return 0 }
	return &testEnv{Engine: eng, Clock: clock, Ctx: context.Background()}
}

// rollSeq feeds a fixed sequence of rolls; the last value repeats.
func rollSeq(vals ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := vals[len(vals)-1]
		if i < len(vals) {
			v = vals[i]
			i++
		}
		return v
	}
}

func seedWorld(t *testing.T, env *testEnv, id string, stability float64, security int) {
	t.Helper()
	r := env.Engine.Repo
	now := env.Clock.now().UTC().Format(time.RFC3339)
	if err := r.InsertWorld(env.Ctx, domain.World{
		ID: id, Name: "World " + id, BleedEnabled: true, FlagsJSON: "{}", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert world %s: %v", id, err)
	}
	if err := r.InsertZone(env.Ctx, domain.Zone{
		ID: id + "-z1", WorldID: id, Name: "Capital", Stability: stability, Security: security,
	}); err != nil {
		t.Fatalf("insert zone for %s: %v", id, err)
	}
}

func seedAgent(t *testing.T, env *testEnv, id, worldID string, qualification int) {
	t.Helper()
	if err := env.Engine.Repo.InsertAgent(env.Ctx, domain.Agent{
		ID: id, WorldID: worldID, Name: "Agent " + id, Qualification: qualification,
	}); err != nil {
		t.Fatalf("insert agent %s: %v", id, err)
	}
}

func seedEmbassy(t *testing.T, env *testEnv, id, worldID, targetWorldID string, eff float64) {
	t.Helper()
	if err := env.Engine.Repo.InsertEmbassy(env.Ctx, domain.Embassy{
		ID: id, WorldID: worldID, TargetWorldID: targetWorldID, Effectiveness: eff, Status: "active",
	}); err != nil {
		t.Fatalf("insert embassy %s: %v", id, err)
	}
}

func createJoinedEpoch(t *testing.T, env *testEnv, cfg config.EpochConfig, worldIDs ...string) domain.Epoch {
	t.Helper()
	ep, err := env.Engine.CreateEpoch(env.Ctx, "Test Epoch", cfg)
	if err != nil {
		t.Fatalf("create epoch: %v", err)
	}
	for _, w := range worldIDs {
		if _, err := env.Engine.Join(env.Ctx, ep.ID, w); err != nil {
			t.Fatalf("join %s: %v", w, err)
		}
	}
	return ep
}

func startEpoch(t *testing.T, env *testEnv, worldIDs ...string) domain.Epoch {
	t.Helper()
	ep := createJoinedEpoch(t, env, config.Default(), worldIDs...)
	ep, err := env.Engine.Start(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("start epoch: %v", err)
	}
	return ep
}

func grantRP(t *testing.T, env *testEnv, epochID, worldID, what string, amount int) {
	t.Helper()
	if _, err := env.Engine.Grant(env.Ctx, epochID, worldID, amount, amount); err != nil {
		t.Fatalf("grant rp for %s: %v", what, err)
	}
}

func TestEpochPhaseMachine(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	ep := startEpoch(t, env, "wA", "wB")

	if ep.Status != domain.EpochFoundation {
		t.Fatalf("status after start = %s, want foundation", ep.Status)
	}
	if ep.StartedAt == nil || ep.EndsAt == nil {
		t.Fatalf("start must set started_at and ends_at")
	}
	started, _ := time.Parse(time.RFC3339, *ep.StartedAt)
	ends, _ := time.Parse(time.RFC3339, *ep.EndsAt)
	if got := ends.Sub(started); got != 14*24*time.Hour {
		t.Fatalf("epoch window = %v, want 14 days", got)
	}
	instances, err := env.Engine.Repo.ListGameInstances(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("cloned instances = %d, want 2", len(instances))
	}
	for _, gi := range instances {
		if gi.State != "active" {
			t.Fatalf("instance state = %s, want active", gi.State)
		}
	}

	for _, want := range []string{domain.EpochCompetition, domain.EpochReckoning, domain.EpochCompleted} {
		ep, err = env.Engine.Advance(env.Ctx, ep.ID)
		if err != nil {
			t.Fatalf("advance to %s: %v", want, err)
		}
		if ep.Status != want {
			t.Fatalf("status = %s, want %s", ep.Status, want)
		}
	}
	if ep.EndedAt == nil {
		t.Fatalf("completion must set ended_at")
	}
	instances, _ = env.Engine.Repo.ListGameInstances(env.Ctx, ep.ID)
	for _, gi := range instances {
		if gi.State != "archived" {
			t.Fatalf("instance state after completion = %s, want archived", gi.State)
		}
	}

	var pv engine.PhaseViolation
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); !errors.As(err, &pv) {
		t.Fatalf("advance past completed = %v, want PhaseViolation", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, ep.ID); !errors.As(err, &pv) {
		t.Fatalf("cancel of completed epoch = %v, want PhaseViolation", err)
	}
}

func TestStartRequiresTwoParticipants(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	ep := createJoinedEpoch(t, env, config.Default(), "wA")

	var pv engine.PhaseViolation
	if _, err := env.Engine.Start(env.Ctx, ep.ID); !errors.As(err, &pv) {
		t.Fatalf("start with one participant = %v, want PhaseViolation", err)
	}
	fresh, _ := env.Engine.Repo.GetEpoch(env.Ctx, ep.ID)
	if fresh.Status != domain.EpochLobby {
		t.Fatalf("epoch left lobby on rejected start: %s", fresh.Status)
	}
}

func TestJoinRules(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	seedWorld(t, env, "wC", 1.0, 1)
	ep := createJoinedEpoch(t, env, config.Default(), "wA", "wB")

	var cs engine.ConflictState
	if _, err := env.Engine.Join(env.Ctx, ep.ID, "wA"); !errors.As(err, &cs) {
		t.Fatalf("double join = %v, want ConflictState", err)
	}
	if _, err := env.Engine.Start(env.Ctx, ep.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	var pv engine.PhaseViolation
	if _, err := env.Engine.Join(env.Ctx, ep.ID, "wC"); !errors.As(err, &pv) {
		t.Fatalf("join after start = %v, want PhaseViolation", err)
	}
	if err := env.Engine.Leave(env.Ctx, ep.ID, "wB"); !errors.As(err, &pv) {
		t.Fatalf("leave after start = %v, want PhaseViolation", err)
	}
}

func TestCancelDeletesInstances(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	ep := startEpoch(t, env, "wA", "wB")

	ep, err := env.Engine.Cancel(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ep.Status != domain.EpochCancelled || ep.EndedAt == nil {
		t.Fatalf("cancelled epoch = %+v", ep)
	}
	instances, _ := env.Engine.Repo.ListGameInstances(env.Ctx, ep.ID)
	for _, gi := range instances {
		if gi.State != "deleted" {
			t.Fatalf("instance state after cancel = %s, want deleted", gi.State)
		}
	}
}

func TestLedgerGrantAndSpend(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	ep := startEpoch(t, env, "wA", "wB")

	balance, err := env.Engine.Grant(env.Ctx, ep.ID, "wA", 10, 30)
	if err != nil || balance != 10 {
		t.Fatalf("grant 10 = (%d, %v), want 10", balance, err)
	}
	balance, err = env.Engine.Grant(env.Ctx, ep.ID, "wA", 25, 30)
	if err != nil || balance != 30 {
		t.Fatalf("grant past cap = (%d, %v), want 30", balance, err)
	}
	balance, err = env.Engine.Spend(env.Ctx, ep.ID, "wA", 12)
	if err != nil || balance != 18 {
		t.Fatalf("spend 12 = (%d, %v), want 18", balance, err)
	}

	var ir engine.InsufficientResource
	if _, err := env.Engine.Spend(env.Ctx, ep.ID, "wA", 40); !errors.As(err, &ir) {
		t.Fatalf("overspend = %v, want InsufficientResource", err)
	}
	if ir.Have != 18 || ir.Need != 40 {
		t.Fatalf("overspend detail = %+v", ir)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wA")
	if p.CurrentRP != 18 {
		t.Fatalf("balance after rejected spend = %d, want 18", p.CurrentRP)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.Grant(env.Ctx, ep.ID, "wA", -1, 30); !errors.As(err, &ve) {
		t.Fatalf("negative grant = %v, want ValidationError", err)
	}
	if _, err := env.Engine.Spend(env.Ctx, ep.ID, "wA", 0); !errors.As(err, &ve) {
		t.Fatalf("zero spend = %v, want ValidationError", err)
	}
}

func TestCompareAndSwapLoss(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	ep := startEpoch(t, env, "wA", "wB")
	grantRP(t, env, ep.ID, "wA", "wA", 10)

	// A swap against a stale balance must not apply and must report the fresh value.
	ok, fresh, err := env.Engine.Repo.CompareAndSwapRP(env.Ctx, ep.ID, "wA", 3, 1)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ok || fresh != 10 {
		t.Fatalf("stale cas = (ok=%v, fresh=%d), want lost with fresh 10", ok, fresh)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wA")
	if p.CurrentRP != 10 {
		t.Fatalf("balance touched by lost cas: %d", p.CurrentRP)
	}
}

func TestResolveCycleGrants(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	ep := startEpoch(t, env, "wA", "wB")

	// Foundation cycles grant at 1.5x.
	result, err := env.Engine.ResolveCycle(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("resolve cycle: %v", err)
	}
	if result.Cycle != 1 || len(result.Grants) != 2 {
		t.Fatalf("cycle result = %+v", result)
	}
	for _, g := range result.Grants {
		if g.Error != "" || g.Granted != 15 || g.Balance != 15 {
			t.Fatalf("foundation grant = %+v, want 15", g)
		}
	}

	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	result, err = env.Engine.ResolveCycle(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("resolve cycle 2: %v", err)
	}
	if result.Cycle != 2 {
		t.Fatalf("cycle = %d, want 2", result.Cycle)
	}
	for _, g := range result.Grants {
		if g.Granted != 10 || g.Balance != 25 {
			t.Fatalf("competition grant = %+v, want 10 on 25", g)
		}
	}
	fresh, _ := env.Engine.Repo.GetEpoch(env.Ctx, ep.ID)
	if fresh.CurrentCycle != 2 {
		t.Fatalf("epoch cycle = %d, want 2", fresh.CurrentCycle)
	}
	entries, _ := env.Engine.Repo.ListBattleLog(env.Ctx, ep.ID, repo.BattleLogFilter{EventType: "cycle.resolved"})
	if len(entries) != 2 {
		t.Fatalf("cycle log entries = %d, want 2", len(entries))
	}

	seedWorld(t, env, "wC", 1.0, 1)
	seedWorld(t, env, "wD", 1.0, 1)
	lobby := createJoinedEpoch(t, env, config.Default(), "wC", "wD")
	var pv engine.PhaseViolation
	if _, err := env.Engine.ResolveCycle(env.Ctx, lobby.ID); !errors.As(err, &pv) {
		t.Fatalf("resolve cycle in lobby = %v, want PhaseViolation", err)
	}
}

func TestDeployPhaseAndTargetRules(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 2)
	seedAgent(t, env, "agA1", "wA", 3)
	seedAgent(t, env, "agA2", "wA", 3)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.5)
	ep := startEpoch(t, env, "wA", "wB")
	grantRP(t, env, ep.ID, "wA", "wA", 30)

	// Foundation permits only garrisons.
	var pv engine.PhaseViolation
	_, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "sabotage", TargetWorldID: "wB",
	})
	if !errors.As(err, &pv) {
		t.Fatalf("offensive deploy in foundation = %v, want PhaseViolation", err)
	}

	var ve engine.ValidationError
	_, err = env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "garrison", TargetWorldID: "wB",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("garrison with target = %v, want ValidationError", err)
	}

	m, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "garrison",
	})
	if err != nil {
		t.Fatalf("garrison deploy: %v", err)
	}
	if m.Status != domain.MissionDeploying || m.TargetWorldID != nil {
		t.Fatalf("garrison mission = %+v", m)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wA")
	if p.CurrentRP != 26 {
		t.Fatalf("balance after garrison = %d, want 26", p.CurrentRP)
	}

	var cs engine.ConflictState
	_, err = env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "garrison",
	})
	if !errors.As(err, &cs) {
		t.Fatalf("busy agent deploy = %v, want ConflictState", err)
	}

	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Offensive operations need a participating target reachable by embassy.
	seedWorld(t, env, "wX", 1.0, 1)
	_, err = env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA2", OperativeType: "infiltration", TargetWorldID: "wX",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("non-participant target = %v, want ValidationError", err)
	}
	_, err = env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA2", OperativeType: "infiltration", TargetWorldID: "wA",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("self target = %v, want ValidationError", err)
	}
	_, err = env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wB", AgentID: "agA2", OperativeType: "infiltration", TargetWorldID: "wA",
	})
	if err == nil {
		t.Fatalf("agent of another world accepted")
	}
}

func TestDeployProbabilityAndSchedule(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 2)
	seedAgent(t, env, "agA1", "wA", 3)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.5)
	if err := env.Engine.Repo.InsertBuilding(env.Ctx, domain.Building{
		ID: "bldB1", WorldID: "wB", ZoneID: "wB-z1", Name: "Granary", Condition: "good",
	}); err != nil {
		t.Fatalf("insert building: %v", err)
	}
	ep := startEpoch(t, env, "wA", "wB")
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	grantRP(t, env, ep.ID, "wA", "wA", 30)

	m, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "sabotage",
		TargetWorldID: "wB", TargetID: "bldB1",
	})
	if err != nil {
		t.Fatalf("deploy sabotage: %v", err)
	}
	// 0.5 + 3*0.05 - 2*0.05 - 0 + 0.5*0.15
	if want := 0.625; math.Abs(m.SuccessProbability-want) > 1e-9 {
		t.Fatalf("success probability = %v, want %v", m.SuccessProbability, want)
	}
	resolves, _ := time.Parse(time.RFC3339, m.ResolvesAt)
	if got := resolves.Sub(env.Clock.now().UTC()); got != 12*time.Hour {
		t.Fatalf("resolves in %v, want 12h", got)
	}
	if m.TargetZoneID == nil || *m.TargetZoneID != "wB-z1" {
		t.Fatalf("sabotage must inherit the building's zone: %+v", m)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wA")
	if p.CurrentRP != 22 {
		t.Fatalf("balance after sabotage = %d, want 22", p.CurrentRP)
	}
}

func TestProbabilityClamps(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wHigh", 1.0, 0)
	seedWorld(t, env, "wHard", 1.0, 10)
	seedAgent(t, env, "agElite", "wA", 10)
	seedAgent(t, env, "agRookie", "wA", 0)
	seedEmbassy(t, env, "embHigh", "wA", "wHigh", 1.0)
	seedEmbassy(t, env, "embHard", "wA", "wHard", 0.0)
	if err := env.Engine.Repo.InsertBuilding(env.Ctx, domain.Building{
		ID: "bldHard", WorldID: "wHard", ZoneID: "wHard-z1", Name: "Keep", Condition: "good",
	}); err != nil {
		t.Fatalf("insert building: %v", err)
	}
	ep := startEpoch(t, env, "wA", "wHigh", "wHard")
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	grantRP(t, env, ep.ID, "wA", "wA", 30)

	m, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agElite", OperativeType: "infiltration", TargetWorldID: "wHigh",
	})
	if err != nil {
		t.Fatalf("deploy infiltration: %v", err)
	}
	if m.SuccessProbability != 0.95 {
		t.Fatalf("probability ceiling = %v, want 0.95", m.SuccessProbability)
	}

	m, err = env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agRookie", OperativeType: "sabotage",
		TargetWorldID: "wHard", TargetID: "bldHard",
	})
	if err != nil {
		t.Fatalf("deploy sabotage: %v", err)
	}
	if m.SuccessProbability != 0.05 {
		t.Fatalf("probability floor = %v, want 0.05", m.SuccessProbability)
	}
}

func TestMissionResolutionSuccess(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 2)
	seedAgent(t, env, "agA1", "wA", 3)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.5)
	if err := env.Engine.Repo.InsertBuilding(env.Ctx, domain.Building{
		ID: "bldB1", WorldID: "wB", ZoneID: "wB-z1", Name: "Granary", Condition: "good",
	}); err != nil {
		t.Fatalf("insert building: %v", err)
	}
	ep := startEpoch(t, env, "wA", "wB")
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	grantRP(t, env, ep.ID, "wA", "wA", 30)

	m, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "sabotage",
		TargetWorldID: "wB", TargetID: "bldB1",
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	// Not due yet: the sweep leaves the mission alone.
	outcomes, err := env.Engine.ResolvePending(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("early sweep touched %d missions", len(outcomes))
	}

	env.Clock.advance(13 * time.Hour)
	outcomes, err = env.Engine.ResolvePending(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("activation sweep: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.MissionActive {
		t.Fatalf("activation sweep = %+v", outcomes)
	}

	outcomes, err = env.Engine.ResolvePending(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("resolution sweep: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.MissionSuccess {
		t.Fatalf("resolution sweep = %+v", outcomes)
	}

	resolved, _ := env.Engine.Repo.GetMission(env.Ctx, m.ID)
	if resolved.Status != domain.MissionSuccess || resolved.ResolvedAt == nil {
		t.Fatalf("resolved mission = %+v", resolved)
	}
	b, _ := env.Engine.Repo.GetBuilding(env.Ctx, "bldB1")
	if b.Condition != "worn" {
		t.Fatalf("sabotaged building condition = %s, want worn", b.Condition)
	}
	entries, _ := env.Engine.Repo.ListBattleLog(env.Ctx, ep.ID, repo.BattleLogFilter{EventType: "mission.resolved"})
	if len(entries) != 1 || entries[0].Public {
		t.Fatalf("success must log privately: %+v", entries)
	}
}

func TestMissionDetectionAndCapture(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 2)
	seedAgent(t, env, "agA1", "wA", 3)
	seedAgent(t, env, "agB1", "wB", 2)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.5)
	if err := env.Engine.Repo.InsertBuilding(env.Ctx, domain.Building{
		ID: "bldB1", WorldID: "wB", ZoneID: "wB-z1", Name: "Granary", Condition: "good",
	}); err != nil {
		t.Fatalf("insert building: %v", err)
	}
	ep := startEpoch(t, env, "wA", "wB")
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	grantRP(t, env, ep.ID, "wA", "wA", 30)

	m, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "sabotage",
		TargetWorldID: "wB", TargetID: "bldB1",
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	// A standing garrison turns a failed detection check into a capture.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	far := env.Clock.now().Add(90 * 24 * time.Hour).UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.InsertMission(env.Ctx, tx, domain.Mission{
		ID: "gar-wB", EpochID: ep.ID, AgentID: "agB1", OperativeType: "garrison",
		SourceWorldID: "wB", Status: domain.MissionActive, SuccessProbability: 0.9,
		ResolvesAt: far, CreatedAt: env.Clock.now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("insert garrison: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	env.Clock.advance(13 * time.Hour)
	if _, err := env.Engine.ResolvePending(env.Ctx, ep.ID); err != nil {
		t.Fatalf("activation sweep: %v", err)
	}
	// First roll misses success, second lands inside the detection band.
	env.Engine.Rand = rollSeq(0.9, 0.0)
	outcomes, err := env.Engine.ResolvePending(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("resolution sweep: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.MissionCaptured {
		t.Fatalf("resolution sweep = %+v, want captured", outcomes)
	}
	resolved, _ := env.Engine.Repo.GetMission(env.Ctx, m.ID)
	if resolved.Status != domain.MissionCaptured {
		t.Fatalf("mission status = %s, want captured", resolved.Status)
	}
	b, _ := env.Engine.Repo.GetBuilding(env.Ctx, "bldB1")
	if b.Condition != "good" {
		t.Fatalf("captured mission must not apply its effect: %s", b.Condition)
	}
	entries, _ := env.Engine.Repo.ListBattleLog(env.Ctx, ep.ID, repo.BattleLogFilter{EventType: "mission.resolved", PublicOnly: true})
	if len(entries) != 1 {
		t.Fatalf("capture must hit the public record, got %d entries", len(entries))
	}
}

func TestRecallCompletesOnNextSweep(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	seedAgent(t, env, "agA1", "wA", 3)
	ep := startEpoch(t, env, "wA", "wB")
	grantRP(t, env, ep.ID, "wA", "wA", 30)

	m, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "garrison",
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	m, err = env.Engine.Recall(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if m.Status != domain.MissionReturning {
		t.Fatalf("recalled status = %s, want returning", m.Status)
	}

	outcomes, err := env.Engine.ResolvePending(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.MissionFailed || outcomes[0].Outcome != "recalled" {
		t.Fatalf("recall sweep = %+v", outcomes)
	}
	resolved, _ := env.Engine.Repo.GetMission(env.Ctx, m.ID)
	if resolved.Status != domain.MissionFailed || resolved.ResultJSON == nil || !strings.Contains(*resolved.ResultJSON, "recalled") {
		t.Fatalf("recalled mission = %+v", resolved)
	}

	var cs engine.ConflictState
	if _, err := env.Engine.Recall(env.Ctx, m.ID); !errors.As(err, &cs) {
		t.Fatalf("recall of finished mission = %v, want ConflictState", err)
	}
}

func TestCounterIntelSweep(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	seedAgent(t, env, "agA1", "wA", 3)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.5)
	ep := startEpoch(t, env, "wA", "wB")
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	grantRP(t, env, ep.ID, "wA", "wA", 30)
	grantRP(t, env, ep.ID, "wB", "wB", 10)

	if _, err := env.Engine.Deploy(env.Ctx, engine.DeployRequest{
		EpochID: ep.ID, WorldID: "wA", AgentID: "agA1", OperativeType: "infiltration", TargetWorldID: "wB",
	}); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	caught, err := env.Engine.CounterIntel(env.Ctx, ep.ID, "wB")
	if err != nil {
		t.Fatalf("counter-intel: %v", err)
	}
	if len(caught) != 1 || caught[0].Status != domain.MissionDetected {
		t.Fatalf("counter-intel caught = %+v", caught)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wB")
	if p.CurrentRP != 2 {
		t.Fatalf("defender balance = %d, want 2", p.CurrentRP)
	}
	entries, _ := env.Engine.Repo.ListBattleLog(env.Ctx, ep.ID, repo.BattleLogFilter{EventType: "mission.resolved", PublicOnly: true})
	if len(entries) != 1 {
		t.Fatalf("detection must hit the public record, got %d", len(entries))
	}

	var ir engine.InsufficientResource
	if _, err := env.Engine.CounterIntel(env.Ctx, ep.ID, "wB"); !errors.As(err, &ir) {
		t.Fatalf("second sweep on 2 rp = %v, want InsufficientResource", err)
	}
}

func TestComputeEchoStrength(t *testing.T) {
	if got := engine.ComputeEchoStrength(0.5, 0, 0, 1, 0.6, 0); math.Abs(got-0.30) > 1e-9 {
		t.Fatalf("baseline strength = %v, want 0.30", got)
	}
	// Resonance saturates at 3.
	at3 := engine.ComputeEchoStrength(0.5, 0.2, 3, 1, 0.6, 0.1)
	at5 := engine.ComputeEchoStrength(0.5, 0.2, 5, 1, 0.6, 0.1)
	if at3 != at5 {
		t.Fatalf("resonance must saturate: %v vs %v", at3, at5)
	}
	// Strength is clamped into [0, 1].
	if got := engine.ComputeEchoStrength(1, 1, 3, 0, 1, 1); got != 1 {
		t.Fatalf("strength ceiling = %v, want 1", got)
	}
	// Decay compounds: deeper echoes are weaker.
	if d1, d2 := engine.ComputeEchoStrength(0.8, 0, 0, 1, 0.6, 0), engine.ComputeEchoStrength(0.8, 0, 0, 2, 0.6, 0); d2 >= d1 {
		t.Fatalf("depth must weaken echoes: %v vs %v", d1, d2)
	}
}

func seedEchoFixture(t *testing.T, env *testEnv) (domain.Epoch, domain.WorldEvent) {
	t.Helper()
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.9)
	if err := env.Engine.Repo.InsertConnection(env.Ctx, domain.Connection{
		ID: "connAB", SourceWorldID: "wA", TargetWorldID: "wB", Strength: 0.8, BaseThreshold: 6, Status: "active",
	}); err != nil {
		t.Fatalf("insert connection: %v", err)
	}
	ep := startEpoch(t, env, "wA", "wB")
	ev := domain.WorldEvent{
		ID: "evFire", WorldID: "wA", Title: "A Great Fire.", Description: "The harbor district burned for three nights.",
		Impact: 5, TagsJSON: `["war"]`, CreatedAt: env.Clock.now().UTC().Format(time.RFC3339),
	}
	if err := env.Engine.Repo.InsertWorldEvent(env.Ctx, nil, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return ep, ev
}

func TestEvaluateEventCreatesEcho(t *testing.T) {
	env := newTestEnv(t)
	ep, ev := seedEchoFixture(t, env)

	echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, ev.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(echoes) != 1 {
		t.Fatalf("echoes = %d, want 1", len(echoes))
	}
	echo := echoes[0]
	if echo.Status != domain.EchoPending || echo.TargetWorldID != "wB" || echo.Depth != 1 {
		t.Fatalf("echo = %+v", echo)
	}
	if echo.Vector != "refugee" {
		t.Fatalf("vector = %s, want refugee for a war tag", echo.Vector)
	}
	if echo.RootEventID != ev.ID {
		t.Fatalf("root = %s, want the source event", echo.RootEventID)
	}
	// 0.8 * (1 + 0.3*0.9) * (1 + 0.2*1) * 0.6
	if want := 0.73152; math.Abs(echo.Strength-want) > 1e-9 {
		t.Fatalf("strength = %v, want %v", echo.Strength, want)
	}
}

func TestEchoGates(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := seedEchoFixture(t, env)
	r := env.Engine.Repo
	now := env.Clock.now().UTC().Format(time.RFC3339)

	// Below the impact floor.
	if err := r.InsertWorldEvent(env.Ctx, nil, domain.WorldEvent{
		ID: "evSmall", WorldID: "wA", Title: "A quiet day", Impact: 0, TagsJSON: "[]", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, "evSmall"); err != nil || len(echoes) != 0 {
		t.Fatalf("zero-impact event = (%v, %v), want no echoes", echoes, err)
	}

	// Campaign events need impact 2 or more.
	campaign := "camp-1"
	if err := r.InsertWorldEvent(env.Ctx, nil, domain.WorldEvent{
		ID: "evCamp", WorldID: "wA", Title: "Session notes", Impact: 1, TagsJSON: "[]", CampaignID: &campaign, CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if echoes, _ := env.Engine.EvaluateEvent(env.Ctx, ep.ID, "evCamp"); len(echoes) != 0 {
		t.Fatalf("campaign impact-1 event produced echoes")
	}

	// Max depth stops cascades.
	root := "evFire"
	if err := r.InsertWorldEvent(env.Ctx, nil, domain.WorldEvent{
		ID: "evDeep", WorldID: "wA", Title: "Distant echo", Impact: 9, TagsJSON: "[]",
		EchoDepth: 3, RootEventID: &root, CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if echoes, _ := env.Engine.EvaluateEvent(env.Ctx, ep.ID, "evDeep"); len(echoes) != 0 {
		t.Fatalf("max-depth event produced echoes")
	}

	// Bleed-disabled worlds never emit.
	if err := r.InsertWorld(env.Ctx, domain.World{ID: "wQuiet", Name: "Quiet", BleedEnabled: false, FlagsJSON: "{}", CreatedAt: now}); err != nil {
		t.Fatalf("insert world: %v", err)
	}
	if err := r.InsertWorldEvent(env.Ctx, nil, domain.WorldEvent{
		ID: "evQuiet", WorldID: "wQuiet", Title: "Sealed borders", Impact: 9, TagsJSON: "[]", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if echoes, _ := env.Engine.EvaluateEvent(env.Ctx, ep.ID, "evQuiet"); len(echoes) != 0 {
		t.Fatalf("bleed-disabled world produced echoes")
	}
}

func TestEvaluateEventBorderlineRoll(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := seedEchoFixture(t, env)
	now := env.Clock.now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.InsertWorldEvent(env.Ctx, nil, domain.WorldEvent{
		ID: "evBorder", WorldID: "wA", Title: "Border skirmish", Impact: 4, TagsJSON: `["war"]`, CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	// Impact 4 sits two below the adjusted threshold of 5: acceptance is a roll.
	env.Engine.Rand = func() float64 { return 0.99 }
	if echoes, _ := env.Engine.EvaluateEvent(env.Ctx, ep.ID, "evBorder"); len(echoes) != 0 {
		t.Fatalf("high roll must reject a borderline event")
	}
	env.Engine.Rand = func() float64 { return 0 }
	echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, "evBorder")
	if err != nil || len(echoes) != 1 {
		t.Fatalf("low roll borderline = (%v, %v), want 1 echo", echoes, err)
	}
}

func TestApproveEchoLandsEvent(t *testing.T) {
	env := newTestEnv(t)
	ep, ev := seedEchoFixture(t, env)
	echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, ev.ID)
	if err != nil || len(echoes) != 1 {
		t.Fatalf("evaluate = (%v, %v)", echoes, err)
	}

	echo, err := env.Engine.ApproveEcho(env.Ctx, echoes[0].ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if echo.Status != domain.EchoCompleted || echo.TargetEventID == nil {
		t.Fatalf("approved echo = %+v", echo)
	}
	landed, err := env.Engine.Repo.GetWorldEvent(env.Ctx, *echo.TargetEventID)
	if err != nil {
		t.Fatalf("get landed event: %v", err)
	}
	if landed.WorldID != "wB" || landed.EchoDepth != 1 {
		t.Fatalf("landed event = %+v", landed)
	}
	if landed.RootEventID == nil || *landed.RootEventID != ev.ID {
		t.Fatalf("landed root = %v, want %s", landed.RootEventID, ev.ID)
	}
	// round(5 * 0.73152) with a floor of 1.
	if landed.Impact != 4 {
		t.Fatalf("landed impact = %d, want 4", landed.Impact)
	}
	if landed.Title != "Word of a great fire reaches World wB" {
		t.Fatalf("landed title = %q", landed.Title)
	}
	if !strings.Contains(landed.Description, "displaced arrivals") {
		t.Fatalf("landed description missing the refugee lens: %q", landed.Description)
	}
	if landed.TagsJSON != ev.TagsJSON {
		t.Fatalf("landed tags = %s, want %s", landed.TagsJSON, ev.TagsJSON)
	}

	var cs engine.ConflictState
	if _, err := env.Engine.ApproveEcho(env.Ctx, echo.ID); !errors.As(err, &cs) {
		t.Fatalf("re-approve = %v, want ConflictState", err)
	}
	entries, _ := env.Engine.Repo.ListBattleLog(env.Ctx, ep.ID, repo.BattleLogFilter{EventType: "echo.completed", PublicOnly: true})
	if len(entries) != 1 {
		t.Fatalf("completion must hit the public record, got %d", len(entries))
	}
}

func TestApproveEchoUsesWorldLens(t *testing.T) {
	env := newTestEnv(t)
	ep, ev := seedEchoFixture(t, env)
	if err := env.Engine.Repo.UpsertWorldLens(env.Ctx, "wB", "refugee", "Retell the event as whispers among the dockworkers."); err != nil {
		t.Fatalf("upsert lens: %v", err)
	}
	echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, ev.ID)
	if err != nil || len(echoes) != 1 {
		t.Fatalf("evaluate = (%v, %v)", echoes, err)
	}
	echo, err := env.Engine.ApproveEcho(env.Ctx, echoes[0].ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	landed, _ := env.Engine.Repo.GetWorldEvent(env.Ctx, *echo.TargetEventID)
	if !strings.Contains(landed.Description, "dockworkers") {
		t.Fatalf("world lens override not applied: %q", landed.Description)
	}
}

func TestRejectEcho(t *testing.T) {
	env := newTestEnv(t)
	ep, ev := seedEchoFixture(t, env)
	echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, ev.ID)
	if err != nil || len(echoes) != 1 {
		t.Fatalf("evaluate = (%v, %v)", echoes, err)
	}
	echo, err := env.Engine.RejectEcho(env.Ctx, echoes[0].ID)
	if err != nil || echo.Status != domain.EchoRejected {
		t.Fatalf("reject = (%+v, %v)", echo, err)
	}
	var cs engine.ConflictState
	if _, err := env.Engine.ApproveEcho(env.Ctx, echo.ID); !errors.As(err, &cs) {
		t.Fatalf("approve of rejected echo = %v, want ConflictState", err)
	}
}

type failingTransformer struct{}

func (failingTransformer) Transform(context.Context, engine.TransformRequest) (engine.TransformResult, error) {
	return engine.TransformResult{}, errors.New("upstream unavailable")
}

func TestApproveEchoTransformFailure(t *testing.T) {
	env := newTestEnv(t)
	ep, ev := seedEchoFixture(t, env)
	echoes, err := env.Engine.EvaluateEvent(env.Ctx, ep.ID, ev.ID)
	if err != nil || len(echoes) != 1 {
		t.Fatalf("evaluate = (%v, %v)", echoes, err)
	}
	env.Engine.Transformer = failingTransformer{}

	var xe engine.ExternalServiceFailure
	if _, err := env.Engine.ApproveEcho(env.Ctx, echoes[0].ID); !errors.As(err, &xe) {
		t.Fatalf("approve with failing transformer = %v, want ExternalServiceFailure", err)
	}
	fresh, _ := env.Engine.Repo.GetEcho(env.Ctx, echoes[0].ID)
	if fresh.Status != domain.EchoFailed || fresh.ErrorDetail == nil {
		t.Fatalf("failed echo = %+v", fresh)
	}
}

func TestScoringAndLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 0.5, 1)
	seedEmbassy(t, env, "embAB", "wA", "wB", 0.5)
	ep := startEpoch(t, env, "wA", "wB")

	snapshots, err := env.Engine.ComputeScores(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("compute scores: %v", err)
	}
	byWorld := map[string]domain.ScoreSnapshot{}
	for _, s := range snapshots {
		byWorld[s.WorldID] = s
	}
	a, b := byWorld["wA"], byWorld["wB"]
	if math.Abs(a.Stability-100) > 1e-9 || math.Abs(b.Stability-50) > 1e-9 {
		t.Fatalf("stability = %v / %v, want 100 / 50", a.Stability, b.Stability)
	}
	if a.Sovereignty != 100 || b.Sovereignty != 100 {
		t.Fatalf("sovereignty without bleed = %v / %v, want 100", a.Sovereignty, b.Sovereignty)
	}
	if math.Abs(a.Diplomatic-5) > 1e-9 || b.Diplomatic != 0 {
		t.Fatalf("diplomatic = %v / %v, want 5 / 0", a.Diplomatic, b.Diplomatic)
	}
	// Weighted composites against cohort maxima: 20 each for stability,
	// sovereignty and diplomatic; influence and military cohorts are empty.
	if math.Abs(a.Composite-60) > 1e-9 || math.Abs(b.Composite-30) > 1e-9 {
		t.Fatalf("composite = %v / %v, want 60 / 30", a.Composite, b.Composite)
	}

	board, err := env.Engine.Leaderboard(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].WorldID != "wA" || board[0].Rank != 1 || board[1].WorldID != "wB" {
		t.Fatalf("leaderboard = %+v", board)
	}

	var pv engine.PhaseViolation
	if _, err := env.Engine.FinalStandings(env.Ctx, ep.ID); !errors.As(err, &pv) {
		t.Fatalf("standings before the end = %v, want PhaseViolation", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	standings, err := env.Engine.FinalStandings(env.Ctx, ep.ID)
	if err != nil {
		t.Fatalf("final standings: %v", err)
	}
	if len(standings.Leaderboard) != 2 || standings.Leaderboard[0].WorldID != "wA" {
		t.Fatalf("final leaderboard = %+v", standings.Leaderboard)
	}
	awards := map[string]string{}
	for _, aw := range standings.Awards {
		awards[aw.Dimension] = aw.WorldID
	}
	if awards["stability"] != "wA" || awards["diplomatic"] != "wA" {
		t.Fatalf("awards = %+v", standings.Awards)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wA")
	if p.FinalScoresJSON == nil {
		t.Fatalf("final scores not frozen on the participant")
	}
}

func TestScoreHistory(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	ep := startEpoch(t, env, "wA", "wB")

	if _, err := env.Engine.ComputeScores(env.Ctx, ep.ID); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if _, err := env.Engine.ResolveCycle(env.Ctx, ep.ID); err != nil {
		t.Fatalf("resolve cycle: %v", err)
	}
	if _, err := env.Engine.ComputeScores(env.Ctx, ep.ID); err != nil {
		t.Fatalf("compute: %v", err)
	}
	history, err := env.Engine.ScoreHistory(env.Ctx, ep.ID, "wA")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Cycle != 0 || history[1].Cycle != 1 {
		t.Fatalf("history = %+v", history)
	}
}

func TestTeamLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	seedWorld(t, env, "wC", 1.0, 1)
	cfg := config.Default()
	cfg.MaxTeamSize = 2
	ep := createJoinedEpoch(t, env, cfg, "wA", "wB", "wC")

	team, err := env.Engine.CreateTeam(env.Ctx, ep.ID, "wA", "Iron Pact")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, ep.ID, "wB", team.ID); err != nil {
		t.Fatalf("join team: %v", err)
	}
	var cs engine.ConflictState
	if err := env.Engine.JoinTeam(env.Ctx, ep.ID, "wC", team.ID); !errors.As(err, &cs) {
		t.Fatalf("join full team = %v, want ConflictState", err)
	}

	// Switching teams requires allow_betrayal.
	other, err := env.Engine.CreateTeam(env.Ctx, ep.ID, "wC", "Free League")
	if err != nil {
		t.Fatalf("create second team: %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, ep.ID, "wB", other.ID); !errors.As(err, &cs) {
		t.Fatalf("team switch without betrayal = %v, want ConflictState", err)
	}

	// The founder leaving dissolves the team.
	if err := env.Engine.LeaveTeam(env.Ctx, ep.ID, "wA"); err != nil {
		t.Fatalf("founder leave: %v", err)
	}
	dissolved, _ := env.Engine.Repo.GetTeam(env.Ctx, team.ID)
	if dissolved.DissolvedAt == nil {
		t.Fatalf("team not dissolved after founder left")
	}

	if _, err := env.Engine.Start(env.Ctx, ep.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.Advance(env.Ctx, ep.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	var pv engine.PhaseViolation
	if _, err := env.Engine.CreateTeam(env.Ctx, ep.ID, "wB", "Late Pact"); !errors.As(err, &pv) {
		t.Fatalf("team creation in competition = %v, want PhaseViolation", err)
	}
}

func TestTeamBetrayalAllowed(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(t, env, "wA", 1.0, 1)
	seedWorld(t, env, "wB", 1.0, 1)
	seedWorld(t, env, "wC", 1.0, 1)
	cfg := config.Default()
	cfg.AllowBetrayal = true
	ep := createJoinedEpoch(t, env, cfg, "wA", "wB", "wC")

	first, err := env.Engine.CreateTeam(env.Ctx, ep.ID, "wA", "First")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	second, err := env.Engine.CreateTeam(env.Ctx, ep.ID, "wC", "Second")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, ep.ID, "wB", first.ID); err != nil {
		t.Fatalf("join first: %v", err)
	}
	if err := env.Engine.JoinTeam(env.Ctx, ep.ID, "wB", second.ID); err != nil {
		t.Fatalf("betrayal switch: %v", err)
	}
	p, _ := env.Engine.Repo.GetParticipant(env.Ctx, ep.ID, "wB")
	if p.TeamID == nil || *p.TeamID != second.ID {
		t.Fatalf("participant team = %v, want %s", p.TeamID, second.ID)
	}
}

type countingMetrics struct {
	calls int
	m     engine.WorldMetrics
}

func (c *countingMetrics) WorldMetrics(context.Context, string) (engine.WorldMetrics, error) {
	c.calls++
	return c.m, nil
}

func TestMetricsCache(t *testing.T) {
	provider := &countingMetrics{m: engine.WorldMetrics{Instability: 0.4}}
	cache := engine.NewMetricsCache(provider, time.Minute)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache.Now = clock.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.WorldMetrics(ctx, "wA"); err != nil {
			t.Fatalf("metrics: %v", err)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1 within ttl", provider.calls)
	}
	cache.Invalidate("wA")
	if _, err := cache.WorldMetrics(ctx, "wA"); err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider calls after invalidate = %d, want 2", provider.calls)
	}
	clock.advance(2 * time.Minute)
	if _, err := cache.WorldMetrics(ctx, "wA"); err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("provider calls after expiry = %d, want 3", provider.calls)
	}
}
