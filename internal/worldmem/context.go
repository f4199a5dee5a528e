// Package worldmem builds the world-memory-context projection: recent
// chronicle and execution history shaped for dialogue callers.
package worldmem

import (
	"encoding/json"
	"fmt"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/execstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
)

// Envelope types.
const (
	RequestType  = "world-memory-request.v1"
	ResponseType = "world-memory-context.v1"
)

// Limits on how much context one request may pull.
const (
	MinLimit = 1
	MaxLimit = 5
)

// Request is one world-memory query.
type Request struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Scope         Scope  `json:"scope"`
}

// Scope narrows the projection to a town and/or faction.
type Scope struct {
	TownID         string `json:"townId,omitempty"`
	FactionID      string `json:"factionId,omitempty"`
	ChronicleLimit int    `json:"chronicleLimit"`
	HistoryLimit   int    `json:"historyLimit"`
}

// Response is the projection handed back to the caller.
type Response struct {
	Type            string                      `json:"type"`
	SchemaVersion   int                         `json:"schemaVersion"`
	Scope           Scope                       `json:"scope"`
	RecentChronicle []execstore.ChronicleRecord `json:"recentChronicle"`
	RecentHistory   []execstore.HistoryRecord   `json:"recentHistory"`
	TownSummary     *TownSummary                `json:"townSummary,omitempty"`
	FactionSummary  *FactionSummary             `json:"factionSummary,omitempty"`
}

// TownSummary is the deterministic per-town execution view.
type TownSummary struct {
	TownID         string         `json:"townId"`
	CountsByStatus map[string]int `json:"countsByStatus"`
	LatestAt       string         `json:"latestAt,omitempty"`
	LatestID       string         `json:"latestId,omitempty"`
}

// FactionSummary is the per-faction view across its linked towns.
type FactionSummary struct {
	FactionID      string         `json:"factionId"`
	Towns          []string       `json:"towns"`
	CountsByStatus map[string]int `json:"countsByStatus"`
	LatestAt       string         `json:"latestAt,omitempty"`
}

// Builder answers world-memory requests from the store pair.
type Builder struct {
	store      *memstore.Store
	executions execstore.Store
}

// NewBuilder creates a context builder.
func NewBuilder(store *memstore.Store, executions execstore.Store) *Builder {
	return &Builder{store: store, executions: executions}
}

// ParseRequest decodes and validates one request line.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("worldmem: malformed request: %w", err)
	}
	if req.Type != RequestType {
		return nil, fmt.Errorf("worldmem: unexpected request type %q", req.Type)
	}
	if req.SchemaVersion != 1 {
		return nil, fmt.Errorf("worldmem: unsupported schema version %d", req.SchemaVersion)
	}
	req.Scope.ChronicleLimit = clampLimit(req.Scope.ChronicleLimit)
	req.Scope.HistoryLimit = clampLimit(req.Scope.HistoryLimit)
	return &req, nil
}

func clampLimit(n int) int {
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Build answers the request. Records come back newest first with
// deterministic tie-breaks.
func (b *Builder) Build(req *Request) (*Response, error) {
	chronicle, err := b.executions.ListChronicleRecords(execstore.ChronicleQuery{
		TownID:    req.Scope.TownID,
		FactionID: req.Scope.FactionID,
		Limit:     req.Scope.ChronicleLimit,
	})
	if err != nil {
		return nil, err
	}
	history, err := b.executions.ListHistoryRecords(execstore.HistoryQuery{
		TownID: req.Scope.TownID,
		Limit:  req.Scope.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Type:            ResponseType,
		SchemaVersion:   1,
		Scope:           req.Scope,
		RecentChronicle: chronicle,
		RecentHistory:   history,
	}

	if req.Scope.TownID != "" {
		summary, err := b.townSummary(req.Scope.TownID)
		if err != nil {
			return nil, err
		}
		resp.TownSummary = summary
	}
	if req.Scope.FactionID != "" {
		summary, err := b.factionSummary(req.Scope.FactionID)
		if err != nil {
			return nil, err
		}
		resp.FactionSummary = summary
	}
	return resp, nil
}

func (b *Builder) townSummary(townID string) (*TownSummary, error) {
	records, err := b.executions.ListHistoryRecords(execstore.HistoryQuery{TownID: townID})
	if err != nil {
		return nil, err
	}
	summary := &TownSummary{TownID: townID, CountsByStatus: map[string]int{}}
	seen := map[string]bool{}
	for _, r := range records {
		if !seen[r.ExecutionID] {
			seen[r.ExecutionID] = true
			summary.CountsByStatus[r.Status]++
		}
		if r.At > summary.LatestAt {
			summary.LatestAt = r.At
			summary.LatestID = r.ExecutionID
		}
	}
	return summary, nil
}

func (b *Builder) factionSummary(factionID string) (*FactionSummary, error) {
	snap, err := b.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	summary := &FactionSummary{
		FactionID:      factionID,
		Towns:          []string{},
		CountsByStatus: map[string]int{},
	}
	faction := snap.World.Factions[factionID]
	if faction == nil {
		return summary, nil
	}
	summary.Towns = append(summary.Towns, faction.Towns...)
	for _, townID := range summary.Towns {
		town, err := b.townSummary(townID)
		if err != nil {
			return nil, err
		}
		for status, n := range town.CountsByStatus {
			summary.CountsByStatus[status] += n
		}
		if town.LatestAt > summary.LatestAt {
			summary.LatestAt = town.LatestAt
		}
	}
	return summary, nil
}
