package memstore

import (
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// RememberAgent appends a memory line to the named agent: the short ring, the
// long list when important, and the agent archive. The event id is scoped per
// agent, so the same operation can remember for several agents.
func (s *Store) RememberAgent(name, text string, important bool, eventID string) error {
	scoped := eventID + ":agent:" + name
	_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
		agent := snap.Agents[name]
		if agent == nil {
			agent = world.NewAgentRecord()
			snap.Agents[name] = agent
		}
		at := world.ArchiveTimestamp(snap.World.Clock.Day, len(snap.World.ProcessedEventIDs), eventID, name, "memory", 0)
		entry := world.MemoryEntry{At: at, Text: world.CapString(text, world.MaxTextLen), Important: important}
		agent.Short = world.AppendRing(agent.Short, entry, world.ShortMemoryCap)
		if important {
			agent.Long = append(agent.Long, entry)
		}
		agent.Archive = world.AppendRing(agent.Archive,
			world.ArchiveEntry{At: at, Event: entry.Text, Important: important}, world.ArchiveCap)
		return nil, nil
	}, TxOptions{EventID: scoped})
	return err
}

// RememberFaction appends a memory line to the named faction.
func (s *Store) RememberFaction(name, text string, important bool, eventID string) error {
	scoped := eventID + ":faction:" + name
	_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
		faction := snap.Factions[name]
		if faction == nil {
			faction = world.NewFactionRecord()
			snap.Factions[name] = faction
		}
		at := world.ArchiveTimestamp(snap.World.Clock.Day, len(snap.World.ProcessedEventIDs), eventID, name, "memory", 0)
		entry := world.MemoryEntry{At: at, Text: world.CapString(text, world.MaxTextLen), Important: important}
		faction.Long = append(faction.Long, entry)
		faction.Archive = world.AppendRing(faction.Archive,
			world.ArchiveEntry{At: at, Event: entry.Text, Important: important}, world.ArchiveCap)
		return nil, nil
	}, TxOptions{EventID: scoped})
	return err
}

// RememberWorld appends a line to the world archive ring.
func (s *Store) RememberWorld(text string, important bool, eventID string) error {
	scoped := eventID + ":world"
	_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
		at := world.ArchiveTimestamp(snap.World.Clock.Day, len(snap.World.ProcessedEventIDs), eventID, "world", "memory", 0)
		snap.World.Archive = world.AppendRing(snap.World.Archive,
			world.ArchiveEntry{At: at, Event: world.CapString(text, world.MaxTextLen), Important: important}, world.ArchiveCap)
		return nil, nil
	}, TxOptions{EventID: scoped})
	return err
}

// RecallAgent returns copies of the agent's short and long memories.
func (s *Store) RecallAgent(name string) (short, long []world.MemoryEntry, err error) {
	snap, err := s.GetSnapshot()
	if err != nil {
		return nil, nil, err
	}
	agent := snap.Agents[name]
	if agent == nil {
		return []world.MemoryEntry{}, []world.MemoryEntry{}, nil
	}
	return agent.Short, agent.Long, nil
}

// RecallFaction returns copies of the faction's memories.
func (s *Store) RecallFaction(name string) ([]world.MemoryEntry, error) {
	snap, err := s.GetSnapshot()
	if err != nil {
		return nil, err
	}
	faction := snap.Factions[name]
	if faction == nil {
		return []world.MemoryEntry{}, nil
	}
	return faction.Long, nil
}

// RecallWorld returns a copy of the world archive.
func (s *Store) RecallWorld() ([]world.ArchiveEntry, error) {
	snap, err := s.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return snap.World.Archive, nil
}
