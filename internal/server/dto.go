package server

import (
	"encoding/json"

	"echowar/internal/domain"
)

// Request payloads

type CreateEpochRequest struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config,omitempty"`
}

type UpdateEpochConfigRequest struct {
	Config json.RawMessage `json:"config"`
}

type JoinEpochRequest struct {
	WorldID string `json:"world_id"`
}

type CreateTeamRequest struct {
	WorldID string `json:"world_id"`
	Name    string `json:"name"`
}

type JoinTeamRequest struct {
	WorldID string `json:"world_id"`
}

type DeployMissionRequest struct {
	WorldID       string `json:"world_id"`
	AgentID       string `json:"agent_id"`
	OperativeType string `json:"operative_type" enum:"garrison,sabotage,subversion,embassy_strike,infiltration"`
	TargetWorldID string `json:"target_world_id,omitempty"`
	TargetZoneID  string `json:"target_zone_id,omitempty"`
	TargetID      string `json:"target_id,omitempty"`
}

type CounterIntelRequest struct {
	WorldID string `json:"world_id"`
}

type TriggerEchoRequest struct {
	EventID string `json:"event_id"`
}

type IssueKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"observer,player,referee"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type EpochResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status" enum:"lobby,foundation,competition,reckoning,completed,cancelled"`
	CurrentCycle int             `json:"current_cycle"`
	Config       json.RawMessage `json:"config"`
	StartedAt    *string         `json:"started_at,omitempty" format:"date-time"`
	EndsAt       *string         `json:"ends_at,omitempty" format:"date-time"`
	EndedAt      *string         `json:"ended_at,omitempty" format:"date-time"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
}

func epochResponse(e domain.Epoch) EpochResponse {
	return EpochResponse{
		ID:           e.ID,
		Name:         e.Name,
		Status:       e.Status,
		CurrentCycle: e.CurrentCycle,
		Config:       json.RawMessage(e.ConfigJSON),
		StartedAt:    e.StartedAt,
		EndsAt:       e.EndsAt,
		EndedAt:      e.EndedAt,
		CreatedAt:    e.CreatedAt,
	}
}

func mapEpochs(items []domain.Epoch) []EpochResponse {
	res := make([]EpochResponse, 0, len(items))
	for _, e := range items {
		res = append(res, epochResponse(e))
	}
	return res
}

type ParticipantResponse struct {
	EpochID    string  `json:"epoch_id"`
	WorldID    string  `json:"world_id"`
	CurrentRP  int     `json:"current_rp"`
	TeamID     *string `json:"team_id,omitempty"`
	CycleReady bool    `json:"cycle_ready"`
	JoinedAt   string  `json:"joined_at" format:"date-time"`
}

func participantResponse(p domain.Participant) ParticipantResponse {
	return ParticipantResponse{
		EpochID:    p.EpochID,
		WorldID:    p.WorldID,
		CurrentRP:  p.CurrentRP,
		TeamID:     p.TeamID,
		CycleReady: p.CycleReady,
		JoinedAt:   p.JoinedAt,
	}
}

type TeamResponse struct {
	ID             string  `json:"id"`
	EpochID        string  `json:"epoch_id"`
	Name           string  `json:"name"`
	FounderWorldID string  `json:"founder_world_id"`
	DissolvedAt    *string `json:"dissolved_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

func teamResponse(t domain.Team) TeamResponse {
	return TeamResponse{
		ID:             t.ID,
		EpochID:        t.EpochID,
		Name:           t.Name,
		FounderWorldID: t.FounderWorldID,
		DissolvedAt:    t.DissolvedAt,
		CreatedAt:      t.CreatedAt,
	}
}

type MissionResponse struct {
	ID                 string          `json:"id"`
	EpochID            string          `json:"epoch_id"`
	AgentID            string          `json:"agent_id"`
	OperativeType      string          `json:"operative_type"`
	SourceWorldID      string          `json:"source_world_id"`
	TargetWorldID      *string         `json:"target_world_id,omitempty"`
	TargetEmbassyID    *string         `json:"target_embassy_id,omitempty"`
	TargetEntityID     *string         `json:"target_entity_id,omitempty"`
	TargetZoneID       *string         `json:"target_zone_id,omitempty"`
	Status             string          `json:"status" enum:"deploying,active,resolving,returning,success,failed,detected,captured"`
	SuccessProbability float64         `json:"success_probability"`
	ResolvesAt         string          `json:"resolves_at" format:"date-time"`
	Result             json.RawMessage `json:"result,omitempty"`
	CreatedAt          string          `json:"created_at" format:"date-time"`
	ResolvedAt         *string         `json:"resolved_at,omitempty" format:"date-time"`
}

func missionResponse(m domain.Mission) MissionResponse {
	res := MissionResponse{
		ID:                 m.ID,
		EpochID:            m.EpochID,
		AgentID:            m.AgentID,
		OperativeType:      m.OperativeType,
		SourceWorldID:      m.SourceWorldID,
		TargetWorldID:      m.TargetWorldID,
		TargetEmbassyID:    m.TargetEmbassyID,
		TargetEntityID:     m.TargetEntityID,
		TargetZoneID:       m.TargetZoneID,
		Status:             m.Status,
		SuccessProbability: m.SuccessProbability,
		ResolvesAt:         m.ResolvesAt,
		CreatedAt:          m.CreatedAt,
		ResolvedAt:         m.ResolvedAt,
	}
	if m.ResultJSON != nil {
		res.Result = json.RawMessage(*m.ResultJSON)
	}
	return res
}

func mapMissions(items []domain.Mission) []MissionResponse {
	res := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		res = append(res, missionResponse(m))
	}
	return res
}

type EchoResponse struct {
	ID            string  `json:"id"`
	EpochID       string  `json:"epoch_id"`
	SourceEventID string  `json:"source_event_id"`
	RootEventID   string  `json:"root_event_id"`
	SourceWorldID string  `json:"source_world_id"`
	TargetWorldID string  `json:"target_world_id"`
	Vector        string  `json:"echo_vector" enum:"trade,rumor,refugee,faith,arcane"`
	Strength      float64 `json:"echo_strength"`
	Depth         int     `json:"echo_depth"`
	Status        string  `json:"status" enum:"pending,generating,completed,rejected,failed"`
	TargetEventID *string `json:"target_event_id,omitempty"`
	ErrorDetail   *string `json:"error_detail,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

func echoResponse(e domain.Echo) EchoResponse {
	return EchoResponse{
		ID:            e.ID,
		EpochID:       e.EpochID,
		SourceEventID: e.SourceEventID,
		RootEventID:   e.RootEventID,
		SourceWorldID: e.SourceWorldID,
		TargetWorldID: e.TargetWorldID,
		Vector:        e.Vector,
		Strength:      e.Strength,
		Depth:         e.Depth,
		Status:        e.Status,
		TargetEventID: e.TargetEventID,
		ErrorDetail:   e.ErrorDetail,
		CreatedAt:     e.CreatedAt,
	}
}

func mapEchoes(items []domain.Echo) []EchoResponse {
	res := make([]EchoResponse, 0, len(items))
	for _, e := range items {
		res = append(res, echoResponse(e))
	}
	return res
}

type SnapshotResponse struct {
	EpochID     string  `json:"epoch_id"`
	WorldID     string  `json:"world_id"`
	Cycle       int     `json:"cycle"`
	Stability   float64 `json:"stability"`
	Influence   float64 `json:"influence"`
	Sovereignty float64 `json:"sovereignty"`
	Diplomatic  float64 `json:"diplomatic"`
	Military    float64 `json:"military"`
	Composite   float64 `json:"composite"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

func snapshotResponse(s domain.ScoreSnapshot) SnapshotResponse {
	return SnapshotResponse{
		EpochID:     s.EpochID,
		WorldID:     s.WorldID,
		Cycle:       s.Cycle,
		Stability:   s.Stability,
		Influence:   s.Influence,
		Sovereignty: s.Sovereignty,
		Diplomatic:  s.Diplomatic,
		Military:    s.Military,
		Composite:   s.Composite,
		UpdatedAt:   s.UpdatedAt,
	}
}

func mapSnapshots(items []domain.ScoreSnapshot) []SnapshotResponse {
	res := make([]SnapshotResponse, 0, len(items))
	for _, s := range items {
		res = append(res, snapshotResponse(s))
	}
	return res
}

type BattleLogEntryResponse struct {
	ID            int64           `json:"id"`
	EpochID       string          `json:"epoch_id"`
	Cycle         int             `json:"cycle"`
	EventType     string          `json:"event_type"`
	SourceWorldID *string         `json:"source_world_id,omitempty"`
	TargetWorldID *string         `json:"target_world_id,omitempty"`
	MissionID     *string         `json:"mission_id,omitempty"`
	Narrative     string          `json:"narrative"`
	Public        bool            `json:"public"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
}

func battleLogResponse(e domain.BattleLogEntry) BattleLogEntryResponse {
	res := BattleLogEntryResponse{
		ID:            e.ID,
		EpochID:       e.EpochID,
		Cycle:         e.Cycle,
		EventType:     e.EventType,
		SourceWorldID: e.SourceWorldID,
		TargetWorldID: e.TargetWorldID,
		MissionID:     e.MissionID,
		Narrative:     e.Narrative,
		Public:        e.Public,
		CreatedAt:     e.CreatedAt,
	}
	if e.MetadataJSON != "" {
		res.Metadata = json.RawMessage(e.MetadataJSON)
	}
	return res
}

func mapBattleLog(items []domain.BattleLogEntry) []BattleLogEntryResponse {
	res := make([]BattleLogEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, battleLogResponse(e))
	}
	return res
}
