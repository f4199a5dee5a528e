package execution

import (
	"fmt"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// Proposal types of the canonical catalog.
const (
	ProposalMayorAcceptMission = "MAYOR_ACCEPT_MISSION"
	ProposalProjectAdvance     = "PROJECT_ADVANCE"
	ProposalSalvagePlan        = "SALVAGE_PLAN"
	ProposalTownsfolkTalk      = "TOWNSFOLK_TALK"
)

// TranslateConfig carries the injectable vocabularies of the translator.
type TranslateConfig struct {
	// TownAliases maps external town ids onto snapshot town ids.
	TownAliases map[string]string
	// SalvageFocusTargets maps a salvage focus onto a god-command target key.
	SalvageFocusTargets map[string]string
	// TalkTypeNPCs maps a townsfolk talk type onto an NPC key.
	TalkTypeNPCs map[string]string
}

// DefaultTranslateConfig returns the stock vocabularies.
func DefaultTranslateConfig() TranslateConfig {
	return TranslateConfig{
		TownAliases: map[string]string{
			"the-hollow": "hollow",
			"emberfall":  "ember",
			"stonewatch": "stone",
		},
		SalvageFocusTargets: map[string]string{
			"scarcity": "supply-cache",
			"dread":    "warding-stones",
			"general":  "scrap-heap",
		},
		TalkTypeNPCs: map[string]string{
			"morale-boost": "elder",
			"casual":       "bystander",
		},
	}
}

// Translation is the outcome of mapping a proposal onto authority commands.
// Non-empty Failures means the proposal's preconditions did not hold.
type Translation struct {
	TownID   string
	Commands []string
	Failures []world.PreconditionFailure
}

func (t Translation) failf(kind, format string, args ...any) Translation {
	t.Failures = append(t.Failures, world.PreconditionFailure{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	})
	return t
}

// Translate maps the handoff's proposal to its authority command sequence
// against the given snapshot. The snapshot is read only.
func Translate(snap *world.Snapshot, h *Handoff, cfg TranslateConfig) Translation {
	townID := h.Proposal.TownID
	if alias, ok := cfg.TownAliases[townID]; ok {
		townID = alias
	}
	t := Translation{TownID: townID}

	town := snap.World.Towns[townID]
	if town == nil {
		return t.failf("town_exists", "Unknown town: %s", h.Proposal.TownID)
	}

	switch h.Proposal.Type {
	case ProposalMayorAcceptMission:
		missionID, _ := h.Proposal.Args["missionId"].(string)
		if missionID == "" {
			return t.failf("mission_id", "missionId is required")
		}
		if town.Mayor.MissionActive {
			return t.failf("major_mission_inactive", "Major mission already active.")
		}
		t.Commands = []string{
			fmt.Sprintf("mayor talk %s", townID),
			fmt.Sprintf("mayor accept %s", townID),
		}
		return t

	case ProposalProjectAdvance:
		projectID, _ := h.Proposal.Args["projectId"].(string)
		if projectID == "" {
			return t.failf("project_exists", "projectId is required")
		}
		if town.Projects[projectID] == nil {
			return t.failf("project_exists", "Unknown project: %s", projectID)
		}
		t.Commands = []string{fmt.Sprintf("project advance %s %s", townID, projectID)}
		return t

	case ProposalSalvagePlan:
		focus, _ := h.Proposal.Args["focus"].(string)
		target, ok := cfg.SalvageFocusTargets[focus]
		if !ok {
			return t.failf("salvage_focus", "Unknown salvage focus: %s", focus)
		}
		t.Commands = []string{fmt.Sprintf("salvage plan %s %s", townID, target)}
		return t

	case ProposalTownsfolkTalk:
		talkType, _ := h.Proposal.Args["talkType"].(string)
		npc, ok := cfg.TalkTypeNPCs[talkType]
		if !ok {
			return t.failf("talk_type", "Unknown talk type: %s", talkType)
		}
		t.Commands = []string{fmt.Sprintf("townsfolk talk %s %s", townID, npc)}
		return t
	}
	return t.failf("proposal_type", "Unknown proposal type: %s", h.Proposal.Type)
}
