// Package god is the operator command vocabulary: the authority commands the
// execution adapter composes, plus god-mode switches for the world's rules.
// Every command runs inside one idempotent transaction.
package god

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// Exact rejection phrases. The adapter classifies failures by these strings;
// change them and the reason codes drift.
const (
	ReasonDuplicate         = "Duplicate operation ignored."
	ReasonUnknownTown       = "Unknown town."
	ReasonUnknownProject    = "Unknown project."
	ReasonUnknownSalvage    = "Unknown salvage target."
	ReasonMissionActive     = "Major mission already active."
	ReasonBriefingRequired  = "No major mission briefing is available. talk to the mayor first."
	ReasonUnknownCommand    = "Unknown god command."
	mayorCooldownFmt        = "mayor cooldown active until day %d"
	mayorAcceptCooldownDays = 3
)

// Request is one god command invocation.
type Request struct {
	// Agents optionally names the agents the command addresses.
	Agents      []string
	Command     string
	OperationID string
}

// Response reports whether the command mutated the snapshot.
type Response struct {
	Applied     bool
	Reason      string
	OutputLines []string
	Audit       bool
}

// Config carries the injectable vocabularies.
type Config struct {
	// SalvageTargets is the set of valid salvage plan targets.
	SalvageTargets map[string]bool
	// TownsfolkNPCs is the set of valid townsfolk talk keys.
	TownsfolkNPCs map[string]bool
}

// DefaultConfig returns the stock vocabularies.
func DefaultConfig() Config {
	return Config{
		SalvageTargets: map[string]bool{"supply-cache": true, "warding-stones": true, "scrap-heap": true},
		TownsfolkNPCs:  map[string]bool{"elder": true, "bystander": true},
	}
}

// Service applies god commands through the memory store.
type Service struct {
	store   *memstore.Store
	emitter events.Emitter
	cfg     Config
}

// NewService creates a god command service.
func NewService(store *memstore.Store, emitter events.Emitter, cfg Config) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if cfg.SalvageTargets == nil {
		cfg.SalvageTargets = DefaultConfig().SalvageTargets
	}
	if cfg.TownsfolkNPCs == nil {
		cfg.TownsfolkNPCs = DefaultConfig().TownsfolkNPCs
	}
	return &Service{store: store, emitter: emitter, cfg: cfg}
}

// Apply parses and runs one command. Rejections come back as structured
// responses, never as errors; errors are store-level failures only.
func (s *Service) Apply(req Request) (Response, error) {
	fields := strings.Fields(req.Command)
	if len(fields) == 0 {
		return Response{Reason: ReasonUnknownCommand}, nil
	}

	var resp Response
	tx, err := s.store.Transact(func(snap *world.Snapshot) (any, error) {
		resp = s.dispatch(snap, fields, req)
		if !resp.Applied {
			// A rejected command must not consume the operation id or
			// bump the epoch for nothing.
			return nil, rejectedErr{resp}
		}
		return nil, nil
	}, memstore.TxOptions{EventID: req.OperationID})
	if err != nil {
		var rej rejectedErr
		if asRejected(err, &rej) {
			return rej.resp, nil
		}
		return Response{}, err
	}
	if tx.Skipped {
		return Response{Reason: ReasonDuplicate}, nil
	}
	if resp.Applied {
		s.emitter.Emit(events.TypeGodCommand, "god", fields[0], map[string]any{
			"command": req.Command,
			"audit":   resp.Audit,
		})
	}
	return resp, nil
}

// rejectedErr carries a structured rejection out of the transaction so the
// store aborts without persisting.
type rejectedErr struct{ resp Response }

func (e rejectedErr) Error() string { return "god command rejected: " + e.resp.Reason }

func asRejected(err error, out *rejectedErr) bool {
	rej, ok := err.(rejectedErr)
	if ok {
		*out = rej
	}
	return ok
}

func (s *Service) dispatch(snap *world.Snapshot, fields []string, req Request) Response {
	switch fields[0] {
	case "mayor":
		return s.mayor(snap, fields, req)
	case "project":
		return s.project(snap, fields, req)
	case "salvage":
		return s.salvage(snap, fields, req)
	case "townsfolk":
		return s.townsfolk(snap, fields)
	case "war":
		return s.war(snap, fields)
	case "rule":
		return s.rule(snap, fields)
	case "legitimacy":
		return s.legitimacy(snap, fields)
	case "news":
		return s.news(snap, fields, req)
	case "clock":
		return s.clock(snap, fields)
	}
	return Response{Reason: ReasonUnknownCommand}
}

func town(snap *world.Snapshot, id string) *world.TownState {
	return snap.World.Towns[id]
}

func (s *Service) mayor(snap *world.Snapshot, fields []string, req Request) Response {
	if len(fields) < 3 {
		return Response{Reason: ReasonUnknownCommand}
	}
	t := town(snap, fields[2])
	if t == nil {
		return Response{Reason: ReasonUnknownTown}
	}
	day := snap.World.Clock.Day
	switch fields[1] {
	case "talk":
		if day < t.Mayor.CooldownUntilDay {
			return Response{Reason: fmt.Sprintf(mayorCooldownFmt, t.Mayor.CooldownUntilDay)}
		}
		t.Mayor.BriefingDay = day
		return Response{
			Applied:     true,
			OutputLines: []string{fmt.Sprintf("The mayor of %s lays out the situation.", t.Name)},
		}
	case "accept":
		if t.Mayor.MissionActive {
			return Response{Reason: ReasonMissionActive}
		}
		if t.Mayor.BriefingDay != day {
			return Response{Reason: ReasonBriefingRequired}
		}
		t.Mayor.MissionActive = true
		t.Mayor.MissionID = fmt.Sprintf("mission_%s_d%d", fields[2], day)
		t.Mayor.CooldownUntilDay = day + mayorAcceptCooldownDays
		chronicle(snap, req.OperationID, "mission", fields[2], "",
			fmt.Sprintf("[MISSION] %s takes up the mayor's charge.", t.Name))
		return Response{
			Applied:     true,
			OutputLines: []string{fmt.Sprintf("Major mission accepted in %s.", t.Name)},
		}
	}
	return Response{Reason: ReasonUnknownCommand}
}

func (s *Service) project(snap *world.Snapshot, fields []string, req Request) Response {
	if len(fields) < 4 || fields[1] != "advance" {
		return Response{Reason: ReasonUnknownCommand}
	}
	t := town(snap, fields[2])
	if t == nil {
		return Response{Reason: ReasonUnknownTown}
	}
	p := t.Projects[fields[3]]
	if p == nil {
		return Response{Reason: ReasonUnknownProject}
	}
	p.Progress++
	line := fmt.Sprintf("Work advances on %s (%d/%d).", p.Name, p.Progress, p.Target)
	if p.Progress >= p.Target {
		line = fmt.Sprintf("%s stands complete.", p.Name)
		chronicle(snap, req.OperationID, "project", fields[2], "",
			fmt.Sprintf("[PROJECT] %s finished %s.", t.Name, p.Name))
	}
	return Response{Applied: true, OutputLines: []string{line}}
}

func (s *Service) salvage(snap *world.Snapshot, fields []string, req Request) Response {
	if len(fields) < 4 || fields[1] != "plan" {
		return Response{Reason: ReasonUnknownCommand}
	}
	t := town(snap, fields[2])
	if t == nil {
		return Response{Reason: ReasonUnknownTown}
	}
	target := fields[3]
	if !s.cfg.SalvageTargets[target] {
		return Response{Reason: ReasonUnknownSalvage}
	}
	cur := snap.World.Threat.ByTown[fields[2]]
	snap.World.Threat.ByTown[fields[2]] = world.Clamp(cur-10, 0, 100)
	chronicle(snap, req.OperationID, "salvage", fields[2], "",
		fmt.Sprintf("[SALVAGE] %s organizes a sweep of the %s.", t.Name, target))
	return Response{
		Applied:     true,
		OutputLines: []string{fmt.Sprintf("Salvage crews fan out toward the %s.", target)},
	}
}

func (s *Service) townsfolk(snap *world.Snapshot, fields []string) Response {
	if len(fields) < 4 || fields[1] != "talk" {
		return Response{Reason: ReasonUnknownCommand}
	}
	t := town(snap, fields[2])
	if t == nil {
		return Response{Reason: ReasonUnknownTown}
	}
	npc := fields[3]
	if !s.cfg.TownsfolkNPCs[npc] {
		return Response{Reason: ReasonUnknownCommand}
	}
	lines := []string{fmt.Sprintf("The %s of %s shares the day's gossip.", npc, t.Name)}
	if npc == "elder" {
		for _, f := range snap.World.Factions {
			for _, ft := range f.Towns {
				if ft == fields[2] {
					f.Stability = world.Clamp(f.Stability+1, 0, 100)
				}
			}
		}
		lines = append(lines, "Spirits lift a little.")
	}
	return Response{Applied: true, OutputLines: lines}
}

func (s *Service) war(snap *world.Snapshot, fields []string) Response {
	if len(fields) < 2 {
		return Response{Reason: ReasonUnknownCommand}
	}
	switch fields[1] {
	case "on":
		snap.World.WarActive = true
	case "off":
		snap.World.WarActive = false
	default:
		return Response{Reason: ReasonUnknownCommand}
	}
	return Response{Applied: true, Audit: true,
		OutputLines: []string{fmt.Sprintf("War active: %v.", snap.World.WarActive)}}
}

func (s *Service) rule(snap *world.Snapshot, fields []string) Response {
	if len(fields) < 3 || fields[1] != "lethal" {
		return Response{Reason: ReasonUnknownCommand}
	}
	switch fields[2] {
	case "on":
		snap.World.Rules.AllowLethalPolitics = true
	case "off":
		snap.World.Rules.AllowLethalPolitics = false
	default:
		return Response{Reason: ReasonUnknownCommand}
	}
	return Response{Applied: true, Audit: true,
		OutputLines: []string{fmt.Sprintf("Lethal politics: %v.", snap.World.Rules.AllowLethalPolitics)}}
}

func (s *Service) legitimacy(snap *world.Snapshot, fields []string) Response {
	if len(fields) < 3 || fields[1] != "set" {
		return Response{Reason: ReasonUnknownCommand}
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return Response{Reason: ReasonUnknownCommand}
	}
	snap.World.Player.Legitimacy = world.Clamp(n, 0, 100)
	return Response{Applied: true, Audit: true,
		OutputLines: []string{fmt.Sprintf("Player legitimacy set to %d.", snap.World.Player.Legitimacy)}}
}

func (s *Service) news(snap *world.Snapshot, fields []string, req Request) Response {
	if len(fields) < 3 {
		return Response{Reason: ReasonUnknownCommand}
	}
	townID := fields[1]
	if townID == "-" {
		townID = ""
	} else if town(snap, townID) == nil {
		return Response{Reason: ReasonUnknownTown}
	}
	msg := world.CapString(strings.Join(fields[2:], " "), world.MaxTextLen)
	item := world.NewsItem{
		ID:      "news_" + world.HashBytes([]byte(req.OperationID+":news"))[:12],
		At:      archiveAt(snap, req.OperationID, "news"),
		Town:    townID,
		Message: msg,
	}
	snap.World.News = append(snap.World.News, item)
	return Response{Applied: true, Audit: true,
		OutputLines: []string{fmt.Sprintf("Posted news: %s", msg)}}
}

func (s *Service) clock(snap *world.Snapshot, fields []string) Response {
	if len(fields) < 2 || fields[1] != "advance" {
		return Response{Reason: ReasonUnknownCommand}
	}
	steps := 1
	if len(fields) >= 3 {
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 1 {
			return Response{Reason: ReasonUnknownCommand}
		}
		steps = n
	}
	c := &snap.World.Clock
	for i := 0; i < steps; i++ {
		if c.Phase == world.PhaseDay {
			c.Phase = world.PhaseNight
		} else {
			c.Phase = world.PhaseDay
			c.Day++
		}
	}
	c.UpdatedAt = archiveAt(snap, "clock", "advance")
	return Response{Applied: true, Audit: true,
		OutputLines: []string{fmt.Sprintf("Day %d, %s.", c.Day, c.Phase)}}
}

func chronicle(snap *world.Snapshot, opID, entryType, townID, factionID, msg string) {
	snap.World.Chronicle = append(snap.World.Chronicle, world.ChronicleEntry{
		ID:        "chr_" + world.HashBytes([]byte(opID+":"+entryType+":"+townID))[:12],
		At:        archiveAt(snap, opID, entryType),
		EntryType: entryType,
		TownID:    townID,
		FactionID: factionID,
		Message:   world.CapString(msg, world.MaxTextLen),
	})
}

func archiveAt(snap *world.Snapshot, opID, tag string) string {
	return world.ArchiveTimestamp(
		snap.World.Clock.Day,
		len(snap.World.ProcessedEventIDs),
		opID, "god", tag, 0,
	)
}
