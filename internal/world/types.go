// Package world defines the authoritative snapshot document: the single JSON
// state mutated only through memstore transactions.
package world

// Ring capacities for the bounded arrays carried by the snapshot.
const (
	ShortMemoryCap    = 20
	ArchiveCap        = 500
	ProcessedEventCap = 1000
	HistoryCap        = 512
	EventLedgerCap    = 1024
	PendingCap        = 128
)

// Field length caps applied before anything reaches persistence.
const (
	MaxTextLen    = 500
	MaxSummaryLen = 1200
	MaxNameLen    = 120
)

// Snapshot is the persisted world document. One per process.
type Snapshot struct {
	Agents   map[string]*AgentRecord   `json:"agents"`
	Factions map[string]*FactionRecord `json:"factions"`
	World    *WorldState               `json:"world"`
}

// AgentRecord holds everything the core remembers about a single agent.
type AgentRecord struct {
	Short            []MemoryEntry  `json:"short"`
	Long             []MemoryEntry  `json:"long"`
	Summary          string         `json:"summary"`
	Archive          []ArchiveEntry `json:"archive"`
	RecentUtterances []string       `json:"recentUtterances"`
	Profile          *AgentProfile  `json:"profile"`
}

// MemoryEntry is one remembered line, short- or long-term.
type MemoryEntry struct {
	At        string `json:"at"`
	Text      string `json:"text"`
	Important bool   `json:"important"`
}

// ArchiveEntry is a (time, event) pair in an archive ring.
type ArchiveEntry struct {
	At        string `json:"at"`
	Event     string `json:"event"`
	Important bool   `json:"important,omitempty"`
}

// AgentProfile carries the mutable disposition of an agent.
type AgentProfile struct {
	Trust       int             `json:"trust"` // 0..10
	Mood        string          `json:"mood"`
	Faction     string          `json:"faction,omitempty"`
	Flags       map[string]bool `json:"flags"`
	Rep         RepMap          `json:"rep"`
	WorldIntent *IntentState    `json:"world_intent"`
	Job         *JobState       `json:"job,omitempty"`
}

// IntentState is the world-loop bookkeeping for one agent.
type IntentState struct {
	Intent         string        `json:"intent"`
	IntentTarget   string        `json:"intent_target"`
	IntentSetAt    string        `json:"intent_set_at"`
	LastAction     string        `json:"last_action"`
	LastActionAt   string        `json:"last_action_at"`
	Frozen         bool          `json:"frozen"`
	ManualOverride bool          `json:"manual_override"`
	Budgets        IntentBudgets `json:"budgets"`
	RepeatCount    int           `json:"repeat_count"`
	LastPlanKey    string        `json:"last_plan_key"`
}

// IntentBudgets tracks the per-minute intent budget bucket.
type IntentBudgets struct {
	MinuteBucket int64 `json:"minute_bucket"`
	EventsInMin  int   `json:"events_in_min"`
}

// JobState marks an agent as holding a world job the loop plans around.
type JobState struct {
	Role string `json:"role"` // scout, guard, builder, farmer, hauler
}

// FactionRecord is the remembered state of one named faction.
type FactionRecord struct {
	Long    []MemoryEntry  `json:"long"`
	Summary string         `json:"summary"`
	Archive []ArchiveEntry `json:"archive"`
}

// WorldState is the world sub-document of the snapshot.
type WorldState struct {
	WarActive         bool                     `json:"warActive"`
	Rules             Rules                    `json:"rules"`
	Player            Player                   `json:"player"`
	Factions          map[string]*WorldFaction `json:"factions"`
	Towns             map[string]*TownState    `json:"towns"`
	Clock             Clock                    `json:"clock"`
	Threat            Threat                   `json:"threat"`
	Markers           []Marker                 `json:"markers"`
	Markets           []Market                 `json:"markets"`
	Economy           Economy                  `json:"economy"`
	Chronicle         []ChronicleEntry         `json:"chronicle"`
	News              []NewsItem               `json:"news"`
	Quests            []Quest                  `json:"quests"`
	Archive           []ArchiveEntry           `json:"archive"`
	ProcessedEventIDs []string                 `json:"processedEventIds"`
	DecisionEpoch     int64                    `json:"decisionEpoch"`
	Execution         *ExecutionState          `json:"execution"`
}

// Rules toggles world-level policy switches.
type Rules struct {
	AllowLethalPolitics bool `json:"allowLethalPolitics"`
}

// Player is the single human the factions react to.
type Player struct {
	Name       string `json:"name"`
	Alive      bool   `json:"alive"`
	Legitimacy int    `json:"legitimacy"` // 0..100
}

// WorldFaction is the political state of one story faction.
type WorldFaction struct {
	HostilityToPlayer int      `json:"hostilityToPlayer"` // 0..100
	Stability         int      `json:"stability"`         // 0..100
	Towns             []string `json:"towns"`
	Doctrine          string   `json:"doctrine"`
	Rivals            []string `json:"rivals"`
}

// TownState carries the mayor and project state the adapter's authority
// commands act on.
type TownState struct {
	Name     string              `json:"name"`
	Mayor    MayorState          `json:"mayor"`
	Projects map[string]*Project `json:"projects"`
}

// MayorState tracks mission briefings, the active major mission, and the
// acceptance cooldown for one town.
type MayorState struct {
	BriefingDay      int    `json:"briefingDay"` // -1 when no briefing recorded
	MissionActive    bool   `json:"missionActive"`
	MissionID        string `json:"missionId,omitempty"`
	CooldownUntilDay int    `json:"cooldownUntilDay"`
}

// Project is one advanceable town project.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Progress int    `json:"progress"`
	Target   int    `json:"target"`
}

// Clock is the in-world calendar.
type Clock struct {
	Day       int    `json:"day"` // >= 1
	Phase     string `json:"phase"`
	Season    string `json:"season"`
	UpdatedAt string `json:"updated_at"`
}

// Valid phase and season values.
const (
	PhaseDay   = "day"
	PhaseNight = "night"

	SeasonDawn      = "dawn"
	SeasonLongNight = "long_night"
)

// Threat maps towns to a 0..100 danger level.
type Threat struct {
	ByTown map[string]int `json:"byTown"`
}

// Marker is a named world position agents navigate between.
type Marker struct {
	Name string `json:"name"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
}

// Market is one town market with its open offers.
type Market struct {
	ID     string  `json:"id"`
	Town   string  `json:"town"`
	Offers []Offer `json:"offers"`
}

// Offer is a single market listing.
type Offer struct {
	ID     string `json:"id"`
	Item   string `json:"item"`
	Amount int    `json:"amount"`
	Price  int    `json:"price"`
	Active bool   `json:"active"`
}

// Economy holds the emerald ledger.
type Economy struct {
	Currency    string     `json:"currency"`
	Ledger      BalanceMap `json:"ledger"`
	MintedTotal uint64     `json:"minted_total,omitempty"`
}

// DefaultCurrency is the only currency the economy mints.
const DefaultCurrency = "emerald"

// ChronicleEntry is one durable world-history line.
type ChronicleEntry struct {
	ID        string `json:"id"`
	At        string `json:"at"`
	EntryType string `json:"entryType"`
	TownID    string `json:"townId,omitempty"`
	FactionID string `json:"factionId,omitempty"`
	Message   string `json:"message"`
}

// NewsItem is one broadcastable news line consumed by the town crier.
type NewsItem struct {
	ID      string `json:"id"`
	At      string `json:"at"`
	Town    string `json:"town,omitempty"`
	Message string `json:"message"`
}

// Quest is one tracked quest.
type Quest struct {
	ID     string `json:"id"`
	Town   string `json:"town,omitempty"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Story factions that are always materialized.
const (
	FactionIronPact   = "iron_pact"
	FactionVeilChurch = "veil_church"
)

// NewSnapshot returns the fresh shape used when no snapshot file exists or the
// on-disk document is unreadable.
func NewSnapshot() *Snapshot {
	s := &Snapshot{
		Agents:   map[string]*AgentRecord{},
		Factions: map[string]*FactionRecord{},
		World: &WorldState{
			Rules:  Rules{AllowLethalPolitics: false},
			Player: Player{Name: "player", Alive: true, Legitimacy: 50},
			Factions: map[string]*WorldFaction{
				FactionIronPact:   defaultWorldFaction(FactionIronPact),
				FactionVeilChurch: defaultWorldFaction(FactionVeilChurch),
			},
			Towns: map[string]*TownState{
				"hollow": defaultTown("hollow"),
				"ember":  defaultTown("ember"),
				"stone":  defaultTown("stone"),
			},
			Clock:             Clock{Day: 1, Phase: PhaseDay, Season: SeasonDawn, UpdatedAt: "2026-01-01T00:00:00Z"},
			Threat:            Threat{ByTown: map[string]int{}},
			Markers:           []Marker{},
			Markets:           []Market{},
			Economy:           Economy{Currency: DefaultCurrency, Ledger: BalanceMap{}},
			Chronicle:         []ChronicleEntry{},
			News:              []NewsItem{},
			Quests:            []Quest{},
			Archive:           []ArchiveEntry{},
			ProcessedEventIDs: []string{},
			Execution:         NewExecutionState(),
		},
	}
	return s
}

func defaultWorldFaction(name string) *WorldFaction {
	f := &WorldFaction{
		HostilityToPlayer: 20,
		Stability:         60,
		Towns:             []string{},
		Rivals:            []string{},
	}
	switch name {
	case FactionIronPact:
		f.Doctrine = "steel and oath"
		f.Towns = []string{"hollow", "stone"}
		f.Rivals = []string{FactionVeilChurch}
	case FactionVeilChurch:
		f.Doctrine = "the long night provides"
		f.Towns = []string{"ember"}
		f.Rivals = []string{FactionIronPact}
	}
	return f
}

func defaultTown(name string) *TownState {
	return &TownState{
		Name:     name,
		Mayor:    MayorState{BriefingDay: -1},
		Projects: map[string]*Project{},
	}
}

// NewAgentRecord materializes an empty agent with the default profile.
func NewAgentRecord() *AgentRecord {
	return &AgentRecord{
		Short:            []MemoryEntry{},
		Long:             []MemoryEntry{},
		Archive:          []ArchiveEntry{},
		RecentUtterances: []string{},
		Profile:          NewAgentProfile(),
	}
}

// NewAgentProfile returns the neutral starting profile.
func NewAgentProfile() *AgentProfile {
	return &AgentProfile{
		Trust:       5,
		Mood:        "calm",
		Flags:       map[string]bool{},
		Rep:         RepMap{},
		WorldIntent: &IntentState{Intent: "idle"},
	}
}

// NewFactionRecord materializes an empty faction record.
func NewFactionRecord() *FactionRecord {
	return &FactionRecord{Long: []MemoryEntry{}, Archive: []ArchiveEntry{}}
}
