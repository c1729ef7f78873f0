package domain

// Epoch statuses.
const (
	EpochLobby       = "lobby"
	EpochFoundation  = "foundation"
	EpochCompetition = "competition"
	EpochReckoning   = "reckoning"
	EpochCompleted   = "completed"
	EpochCancelled   = "cancelled"
)

// Mission statuses.
const (
	MissionDeploying = "deploying"
	MissionActive    = "active"
	MissionResolving = "resolving"
	MissionReturning = "returning"
	MissionSuccess   = "success"
	MissionFailed    = "failed"
	MissionDetected  = "detected"
	MissionCaptured  = "captured"
)

// Echo statuses.
const (
	EchoPending    = "pending"
	EchoGenerating = "generating"
	EchoCompleted  = "completed"
	EchoRejected   = "rejected"
	EchoFailed     = "failed"
)

type Epoch struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status" enum:"lobby,foundation,competition,reckoning,completed,cancelled"`
	CurrentCycle int     `json:"current_cycle"`
	ConfigJSON   string  `json:"config_json"`
	StartedAt    *string `json:"started_at,omitempty" format:"date-time"`
	EndsAt       *string `json:"ends_at,omitempty" format:"date-time"`
	EndedAt      *string `json:"ended_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the epoch can no longer change status.
func (e Epoch) Terminal() bool {
	return e.Status == EpochCompleted || e.Status == EpochCancelled
}

type Participant struct {
	EpochID         string  `json:"epoch_id"`
	WorldID         string  `json:"world_id"`
	CurrentRP       int     `json:"current_rp"`
	TeamID          *string `json:"team_id,omitempty"`
	LastRPGrantAt   *string `json:"last_rp_grant_at,omitempty" format:"date-time"`
	CycleReady      bool    `json:"cycle_ready"`
	FinalScoresJSON *string `json:"final_scores_json,omitempty"`
	JoinedAt        string  `json:"joined_at" format:"date-time"`
}

type Team struct {
	ID             string  `json:"id"`
	EpochID        string  `json:"epoch_id"`
	Name           string  `json:"name"`
	FounderWorldID string  `json:"founder_world_id"`
	DissolvedAt    *string `json:"dissolved_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Mission struct {
	ID                 string  `json:"id"`
	EpochID            string  `json:"epoch_id"`
	AgentID            string  `json:"agent_id"`
	OperativeType      string  `json:"operative_type"`
	SourceWorldID      string  `json:"source_world_id"`
	TargetWorldID      *string `json:"target_world_id,omitempty"`
	TargetEmbassyID    *string `json:"target_embassy_id,omitempty"`
	TargetEntityID     *string `json:"target_entity_id,omitempty"`
	TargetZoneID       *string `json:"target_zone_id,omitempty"`
	Status             string  `json:"status" enum:"deploying,active,resolving,returning,success,failed,detected,captured"`
	SuccessProbability float64 `json:"success_probability"`
	ResolvesAt         string  `json:"resolves_at" format:"date-time"`
	ResultJSON         *string `json:"result_json,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	ResolvedAt         *string `json:"resolved_at,omitempty" format:"date-time"`
}

// Terminal reports whether the mission can no longer change status.
func (m Mission) Terminal() bool {
	switch m.Status {
	case MissionSuccess, MissionFailed, MissionDetected, MissionCaptured:
		return true
	}
	return false
}

type Echo struct {
	ID            string  `json:"id"`
	EpochID       string  `json:"epoch_id"`
	SourceEventID string  `json:"source_event_id"`
	RootEventID   string  `json:"root_event_id"`
	SourceWorldID string  `json:"source_world_id"`
	TargetWorldID string  `json:"target_world_id"`
	Vector        string  `json:"echo_vector"`
	Strength      float64 `json:"echo_strength"`
	Depth         int     `json:"echo_depth"`
	Status        string  `json:"status" enum:"pending,generating,completed,rejected,failed"`
	TargetEventID *string `json:"target_event_id,omitempty"`
	ErrorDetail   *string `json:"error_detail,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type ScoreSnapshot struct {
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

type BattleLogEntry struct {
	ID            int64   `json:"id"`
	EpochID       string  `json:"epoch_id"`
	Cycle         int     `json:"cycle"`
	EventType     string  `json:"event_type"`
	SourceWorldID *string `json:"source_world_id,omitempty"`
	TargetWorldID *string `json:"target_world_id,omitempty"`
	MissionID     *string `json:"mission_id,omitempty"`
	Narrative     string  `json:"narrative"`
	Public        bool    `json:"public"`
	MetadataJSON  string  `json:"metadata_json"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// Entity-store records. The engine does not own their semantics beyond the
// point mutations missions apply (condition, intensity, flags).

type World struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Profile      string `json:"profile,omitempty"`
	BleedEnabled bool   `json:"bleed_enabled"`
	FlagsJSON    string `json:"flags_json,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Zone struct {
	ID        string  `json:"id"`
	WorldID   string  `json:"world_id"`
	Name      string  `json:"name"`
	Stability float64 `json:"stability"`
	Security  int     `json:"security"`
}

type Building struct {
	ID        string `json:"id"`
	WorldID   string `json:"world_id"`
	ZoneID    string `json:"zone_id"`
	Name      string `json:"name"`
	Condition string `json:"condition" enum:"pristine,good,worn,damaged,ruined"`
}

type Embassy struct {
	ID            string  `json:"id"`
	WorldID       string  `json:"world_id"`
	TargetWorldID string  `json:"target_world_id"`
	Effectiveness float64 `json:"effectiveness"`
	Status        string  `json:"status" enum:"active,weakened,closed"`
}

type Agent struct {
	ID            string `json:"id"`
	WorldID       string `json:"world_id"`
	Name          string `json:"name"`
	Qualification int    `json:"qualification"`
}

type Relationship struct {
	ID        string `json:"id"`
	WorldID   string `json:"world_id"`
	AgentAID  string `json:"agent_a_id"`
	AgentBID  string `json:"agent_b_id"`
	Intensity int    `json:"intensity"`
}

type WorldEvent struct {
	ID          string  `json:"id"`
	WorldID     string  `json:"world_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Impact      int     `json:"impact"`
	TagsJSON    string  `json:"tags_json"`
	CampaignID  *string `json:"campaign_id,omitempty"`
	EchoDepth   int     `json:"echo_depth"`
	RootEventID *string `json:"root_event_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Connection struct {
	ID            string  `json:"id"`
	SourceWorldID string  `json:"source_world_id"`
	TargetWorldID string  `json:"target_world_id"`
	Strength      float64 `json:"strength"`
	BaseThreshold int     `json:"base_threshold"`
	Status        string  `json:"status" enum:"active,dormant"`
}

type GameInstance struct {
	ID            string `json:"id"`
	EpochID       string `json:"epoch_id"`
	SourceWorldID string `json:"source_world_id"`
	State         string `json:"state" enum:"active,archived,deleted"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
