package execution

import (
	"regexp"
	"strings"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/god"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// exactReasonCodes maps god-service rejection phrases onto reason codes.
var exactReasonCodes = map[string]string{
	god.ReasonDuplicate:        world.ReasonDuplicateHandoff,
	god.ReasonUnknownTown:      world.ReasonUnknownTown,
	god.ReasonUnknownProject:   world.ReasonUnknownProject,
	god.ReasonUnknownSalvage:   world.ReasonUnknownSalvageTarget,
	god.ReasonMissionActive:    world.ReasonMajorMissionAlreadyActive,
	god.ReasonBriefingRequired: world.ReasonMayorBriefingRequired,
}

var mayorCooldownPattern = regexp.MustCompile(`^mayor cooldown active until day `)

var nonSnake = regexp.MustCompile(`[^A-Z0-9]+`)

// classifyReason turns a god-service rejection phrase into a reason code:
// the exact-phrase map first, the cooldown pattern next, and an
// uppercase-snake of the text as the catch-all.
func classifyReason(text string) string {
	if code, ok := exactReasonCodes[text]; ok {
		return code
	}
	if mayorCooldownPattern.MatchString(text) {
		return world.ReasonMayorCooldownActive
	}
	snake := strings.Trim(nonSnake.ReplaceAllString(strings.ToUpper(text), "_"), "_")
	if snake == "" {
		return world.ReasonEngineRejected
	}
	return snake
}
