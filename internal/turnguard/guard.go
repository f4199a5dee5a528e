// Package turnguard sanitizes untrusted turn payloads produced by the
// dialogue generator before anything reaches world state.
package turnguard

import "strings"

// Field caps.
const (
	MaxSayLen        = 300
	MaxMemoryTextLen = 220
	MaxTargetLen     = 80
	MaxReasonLen     = 220
	MaxMemoryWrites  = 5
	MaxActions       = 3
)

// Tones an agent may speak with.
var validTones = map[string]bool{
	"calm": true, "wary": true, "hostile": true, "fearful": true,
	"proud": true, "sad": true, "joyful": true,
}

// Action types an agent may propose.
const (
	ActionNone          = "none"
	ActionSpreadRumor   = "spread_rumor"
	ActionRecruit       = "recruit"
	ActionCallMeeting   = "call_meeting"
	ActionDesertFaction = "desert_faction"
	ActionAttackPlayer  = "attack_player"
)

var validActions = map[string]bool{
	ActionNone: true, ActionSpreadRumor: true, ActionRecruit: true,
	ActionCallMeeting: true, ActionDesertFaction: true, ActionAttackPlayer: true,
}

// Memory scopes.
const (
	ScopeAgent   = "agent"
	ScopeFaction = "faction"
	ScopeWorld   = "world"
)

var validScopes = map[string]bool{ScopeAgent: true, ScopeFaction: true, ScopeWorld: true}

// Turn is a raw or sanitized turn payload.
type Turn struct {
	Say             string           `json:"say"`
	Tone            string           `json:"tone"`
	TrustDelta      int              `json:"trust_delta"`
	MemoryWrites    []MemoryWrite    `json:"memory_writes"`
	ProposedActions []ProposedAction `json:"proposed_actions"`
}

// MemoryWrite is one requested memory append.
type MemoryWrite struct {
	Scope      string `json:"scope"`
	Text       string `json:"text"`
	Importance int    `json:"importance"`
}

// ProposedAction is one action the dialogue model wants the agent to take.
type ProposedAction struct {
	Type       string  `json:"type"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Sanitize whitelists every field of a possibly-malformed turn, substituting
// from the fallback where the raw payload is unusable. The result is always
// safe to apply.
func Sanitize(raw, fallback Turn) Turn {
	out := Turn{}

	out.Say = capStr(raw.Say, MaxSayLen)
	if out.Say == "" {
		out.Say = capStr(fallback.Say, MaxSayLen)
	}
	if out.Say == "" {
		out.Say = "..."
	}

	out.Tone = strings.ToLower(strings.TrimSpace(raw.Tone))
	if !validTones[out.Tone] {
		out.Tone = strings.ToLower(strings.TrimSpace(fallback.Tone))
	}
	if !validTones[out.Tone] {
		out.Tone = "calm"
	}

	out.TrustDelta = clamp(raw.TrustDelta, -2, 2)
	out.MemoryWrites = sanitizeMemoryWrites(raw.MemoryWrites)
	out.ProposedActions = sanitizeActions(raw.ProposedActions)
	return out
}

func sanitizeMemoryWrites(writes []MemoryWrite) []MemoryWrite {
	out := make([]MemoryWrite, 0, MaxMemoryWrites)
	for _, w := range writes {
		if len(out) == MaxMemoryWrites {
			break
		}
		scope := strings.ToLower(strings.TrimSpace(w.Scope))
		text := capStr(w.Text, MaxMemoryTextLen)
		if !validScopes[scope] || text == "" {
			continue
		}
		if w.Importance < 1 || w.Importance > 10 {
			continue
		}
		out = append(out, MemoryWrite{Scope: scope, Text: text, Importance: w.Importance})
	}
	return out
}

func sanitizeActions(actions []ProposedAction) []ProposedAction {
	out := make([]ProposedAction, 0, MaxActions)
	for _, a := range actions {
		if len(out) == MaxActions {
			break
		}
		typ := strings.ToLower(strings.TrimSpace(a.Type))
		if !validActions[typ] {
			continue
		}
		conf := a.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, ProposedAction{
			Type:       typ,
			Target:     capStr(a.Target, MaxTargetLen),
			Confidence: conf,
			Reason:     capStr(a.Reason, MaxReasonLen),
		})
	}
	if len(out) == 0 {
		out = append(out, ProposedAction{Type: ActionNone})
	}
	return out
}

func capStr(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
