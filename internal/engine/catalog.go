package engine

// OperativeType describes one entry of the closed operative catalog.
type OperativeType struct {
	Name         string
	RPCost       int
	DeployCycles int
	ActiveCycles int
	SuccessScore float64
	// Offensive types require a target world with an active embassy; the
	// self-garrison type forbids a target.
	Offensive bool
}

const (
	OpGarrison      = "garrison"
	OpSabotage      = "sabotage"
	OpSubversion    = "subversion"
	OpEmbassyStrike = "embassy_strike"
	OpInfiltration  = "infiltration"
)

var operativeCatalog = map[string]OperativeType{
	OpGarrison:      {Name: OpGarrison, RPCost: 4, DeployCycles: 0, ActiveCycles: 2, SuccessScore: 3, Offensive: false},
	OpSabotage:      {Name: OpSabotage, RPCost: 8, DeployCycles: 1, ActiveCycles: 1, SuccessScore: 10, Offensive: true},
	OpSubversion:    {Name: OpSubversion, RPCost: 6, DeployCycles: 1, ActiveCycles: 2, SuccessScore: 8, Offensive: true},
	OpEmbassyStrike: {Name: OpEmbassyStrike, RPCost: 10, DeployCycles: 1, ActiveCycles: 1, SuccessScore: 12, Offensive: true},
	OpInfiltration:  {Name: OpInfiltration, RPCost: 5, DeployCycles: 2, ActiveCycles: 2, SuccessScore: 6, Offensive: true},
}

// CounterIntelCost is the fixed RP cost of a defensive sweep.
const CounterIntelCost = 8

// DetectionPenalty is subtracted from the military score per detected or
// captured mission.
const DetectionPenalty = 5

// Operative looks up a catalog entry.
func Operative(name string) (OperativeType, bool) {
	op, ok := operativeCatalog[name]
	return op, ok
}

// OperativeNames returns the catalog keys in a stable order.
func OperativeNames() []string {
	return []string{OpGarrison, OpSabotage, OpSubversion, OpEmbassyStrike, OpInfiltration}
}

// conditionSteps orders building conditions from best to worst; sabotage
// degrades one step at a time.
var conditionSteps = []string{"pristine", "good", "worn", "damaged", "ruined"}

func degradeCondition(current string) string {
	for i, c := range conditionSteps {
		if c == current {
			if i+1 < len(conditionSteps) {
				return conditionSteps[i+1]
			}
			return c
		}
	}
	return conditionSteps[len(conditionSteps)-1]
}

// EchoVector is one of the fixed symbolic bleed channels. Resonance counts
// event tags found in the vector's keyword set.
type EchoVector struct {
	Name     string
	Keywords []string
}

var echoVectors = []EchoVector{
	{Name: "trade", Keywords: []string{"trade", "market", "caravan", "goods", "famine", "harvest", "gold"}},
	{Name: "rumor", Keywords: []string{"rumor", "scandal", "betrayal", "court", "murder", "secret"}},
	{Name: "refugee", Keywords: []string{"refugee", "war", "flood", "fire", "exodus", "plague"}},
	{Name: "faith", Keywords: []string{"faith", "omen", "ritual", "temple", "prophecy", "heresy"}},
	{Name: "arcane", Keywords: []string{"arcane", "magic", "portal", "curse", "artifact", "ley"}},
}

// dimensionTitles are awarded to the top scorer of each dimension in the
// final standings.
var dimensionTitles = map[string]string{
	"stability":   "Bastion of Order",
	"influence":   "Voice Beyond the Veil",
	"sovereignty": "Unbroken Realm",
	"diplomatic":  "Grand Envoy",
	"military":    "Shadow Marshal",
}
