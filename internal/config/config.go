package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EpochConfig models the per-epoch tuning document stored in epochs.config_json.
// Bounds are enforced by the embedded JSON schema; cross-field invariants
// (weights summing to 100) by Validate.
type EpochConfig struct {
	DurationDays  int          `json:"duration_days"`
	CycleHours    int          `json:"cycle_hours"`
	RPPerCycle    int          `json:"rp_per_cycle"`
	RPCap         int          `json:"rp_cap"`
	FoundationPct int          `json:"foundation_pct"`
	ReckoningPct  int          `json:"reckoning_pct"`
	MaxTeamSize   int          `json:"max_team_size"`
	AllowBetrayal bool         `json:"allow_betrayal"`
	ScoreWeights  ScoreWeights `json:"score_weights"`
	RefereeMode   bool         `json:"referee_mode"`
	MaxEchoDepth  int          `json:"max_echo_depth"`
	EchoDecay     float64      `json:"echo_decay"`
}

type ScoreWeights struct {
	Stability   int `json:"stability"`
	Influence   int `json:"influence"`
	Sovereignty int `json:"sovereignty"`
	Diplomatic  int `json:"diplomatic"`
	Military    int `json:"military"`
}

func (w ScoreWeights) Sum() int {
	return w.Stability + w.Influence + w.Sovereignty + w.Diplomatic + w.Military
}

const epochSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "duration_days":  {"type": "integer", "minimum": 3,  "maximum": 60},
    "cycle_hours":    {"type": "integer", "minimum": 2,  "maximum": 24},
    "rp_per_cycle":   {"type": "integer", "minimum": 5,  "maximum": 25},
    "rp_cap":         {"type": "integer", "minimum": 15, "maximum": 75},
    "foundation_pct": {"type": "integer", "minimum": 10, "maximum": 30},
    "reckoning_pct":  {"type": "integer", "minimum": 10, "maximum": 25},
    "max_team_size":  {"type": "integer", "minimum": 2,  "maximum": 8},
    "allow_betrayal": {"type": "boolean"},
    "referee_mode":   {"type": "boolean"},
    "max_echo_depth": {"type": "integer", "minimum": 1, "maximum": 5},
    "echo_decay":     {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "score_weights": {
      "type": "object",
      "properties": {
        "stability":   {"type": "integer", "minimum": 0, "maximum": 100},
        "influence":   {"type": "integer", "minimum": 0, "maximum": 100},
        "sovereignty": {"type": "integer", "minimum": 0, "maximum": 100},
        "diplomatic":  {"type": "integer", "minimum": 0, "maximum": 100},
        "military":    {"type": "integer", "minimum": 0, "maximum": 100}
      },
      "required": ["stability", "influence", "sovereignty", "diplomatic", "military"]
    }
  },
  "required": ["duration_days", "cycle_hours", "rp_per_cycle", "rp_cap",
               "foundation_pct", "reckoning_pct", "max_team_size", "score_weights"]
}`

var compiledSchema = jsonschema.MustCompileString("epoch-config.json", epochSchema)

// Default returns the platform-default epoch config.
func Default() EpochConfig {
	return EpochConfig{
		DurationDays:  14,
		CycleHours:    6,
		RPPerCycle:    10,
		RPCap:         30,
		FoundationPct: 20,
		ReckoningPct:  15,
		MaxTeamSize:   4,
		AllowBetrayal: false,
		ScoreWeights: ScoreWeights{
			Stability:   20,
			Influence:   20,
			Sovereignty: 20,
			Diplomatic:  20,
			Military:    20,
		},
		RefereeMode:  false,
		MaxEchoDepth: 3,
		EchoDecay:    0.6,
	}
}

// FromJSON parses and validates an epoch config document.
func FromJSON(data []byte) (EpochConfig, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return EpochConfig{}, fmt.Errorf("invalid config json: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return EpochConfig{}, fmt.Errorf("config out of bounds: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return EpochConfig{}, err
	}
	return cfg, cfg.Validate()
}

// Validate enforces cross-field invariants the schema cannot express.
func (c EpochConfig) Validate() error {
	if got := c.ScoreWeights.Sum(); got != 100 {
		return fmt.Errorf("score_weights must sum to 100, got %d", got)
	}
	if c.FoundationPct+c.ReckoningPct >= 100 {
		return fmt.Errorf("foundation_pct + reckoning_pct must leave room for competition")
	}
	if c.RPCap < c.RPPerCycle {
		return fmt.Errorf("rp_cap %d below rp_per_cycle %d", c.RPCap, c.RPPerCycle)
	}
	if c.MaxEchoDepth <= 0 {
		return fmt.Errorf("max_echo_depth must be positive")
	}
	if c.EchoDecay <= 0 || c.EchoDecay > 1 {
		return fmt.Errorf("echo_decay must be in (0,1]")
	}
	return nil
}

// MarshalText renders the config back to its stored JSON form.
func (c EpochConfig) JSON() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// LensResolver returns an optional lens prompt for transforming an event into
// a target world's register. Resolvers are tried in order; first hit wins.
type LensResolver func(worldID, vector string) (string, bool)

// ResolveLens walks the resolver chain and falls back to the platform table.
func ResolveLens(worldID, vector string, chain ...LensResolver) string {
	for _, resolve := range chain {
		if resolve == nil {
			continue
		}
		if prompt, ok := resolve(worldID, vector); ok && strings.TrimSpace(prompt) != "" {
			return prompt
		}
	}
	if prompt, ok := platformLenses[vector]; ok {
		return prompt
	}
	return platformLenses["rumor"]
}

// platformLenses is the static platform-default lens table, keyed by echo vector.
var platformLenses = map[string]string{
	"trade":   "Retell the event as news arriving with a merchant caravan.",
	"rumor":   "Retell the event as a rumor passed along in a tavern.",
	"refugee": "Retell the event through the account of displaced arrivals.",
	"faith":   "Retell the event as an omen interpreted by local clergy.",
	"arcane":  "Retell the event as a disturbance felt by practitioners of the art.",
}
