package config

import (
	"strings"
	"testing"
)

const validDoc = `{
  "duration_days": 7,
  "cycle_hours": 12,
  "rp_per_cycle": 8,
  "rp_cap": 25,
  "foundation_pct": 15,
  "reckoning_pct": 15,
  "max_team_size": 3,
  "score_weights": {"stability": 30, "influence": 10, "sovereignty": 20, "diplomatic": 20, "military": 20}
}`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ScoreWeights.Sum() != 100 {
		t.Fatalf("default weights sum = %d", cfg.ScoreWeights.Sum())
	}
	// The stored form must round-trip through the parser.
	if _, err := FromJSON([]byte(cfg.JSON())); err != nil {
		t.Fatalf("default json does not round-trip: %v", err)
	}
}

func TestFromJSONMergesOverDefaults(t *testing.T) {
	cfg, err := FromJSON([]byte(validDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DurationDays != 7 || cfg.CycleHours != 12 || cfg.RPPerCycle != 8 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// Fields absent from the document keep platform defaults.
	if cfg.MaxEchoDepth != 3 || cfg.EchoDecay != 0.6 {
		t.Fatalf("defaults lost: depth=%d decay=%v", cfg.MaxEchoDepth, cfg.EchoDecay)
	}
}

func TestFromJSONRejectsOutOfBounds(t *testing.T) {
	doc := strings.Replace(validDoc, `"cycle_hours": 12`, `"cycle_hours": 48`, 1)
	if _, err := FromJSON([]byte(doc)); err == nil {
		t.Fatalf("cycle_hours 48 accepted")
	}
	doc = strings.Replace(validDoc, `"duration_days": 7`, `"duration_days": 1`, 1)
	if _, err := FromJSON([]byte(doc)); err == nil {
		t.Fatalf("duration_days 1 accepted")
	}
	if _, err := FromJSON([]byte(`{not json`)); err == nil {
		t.Fatalf("malformed json accepted")
	}
}

func TestFromJSONRejectsBadWeights(t *testing.T) {
	doc := strings.Replace(validDoc, `"stability": 30`, `"stability": 50`, 1)
	_, err := FromJSON([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "sum to 100") {
		t.Fatalf("weights summing to 120 = %v", err)
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	cfg := Default()
	cfg.RPCap = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("rp_cap below rp_per_cycle accepted")
	}

	cfg = Default()
	cfg.FoundationPct = 60
	cfg.ReckoningPct = 40
	if err := cfg.Validate(); err == nil {
		t.Fatalf("phases leaving no competition window accepted")
	}

	cfg = Default()
	cfg.EchoDecay = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("echo_decay above 1 accepted")
	}
}

func TestResolveLens(t *testing.T) {
	override := func(worldID, vector string) (string, bool) {
		if worldID == "wB" && vector == "trade" {
			return "Retell it as gossip on the exchange floor.", true
		}
		return "", false
	}
	empty := func(string, string) (string, bool) { return "   ", true }

	if got := ResolveLens("wB", "trade", override); !strings.Contains(got, "exchange floor") {
		t.Fatalf("override not used: %q", got)
	}
	// Blank prompts and nil resolvers fall through to the platform table.
	if got := ResolveLens("wA", "faith", nil, empty); !strings.Contains(got, "omen") {
		t.Fatalf("platform faith lens not used: %q", got)
	}
	// Unknown vectors fall back to the rumor lens.
	if got := ResolveLens("wA", "smuggling"); !strings.Contains(got, "tavern") {
		t.Fatalf("rumor fallback not used: %q", got)
	}
}
