package worldloop

import (
	"fmt"
	"time"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// runTownCrier broadcasts the freshest unseen news items, scanning the tail
// of the news feed. Returns how many items went out.
func (l *Loop) runTownCrier(tickAt time.Time) int {
	interval := time.Duration(l.cfg.TownCrierIntervalMs) * time.Millisecond
	if !l.lastCrierTick.IsZero() && tickAt.Sub(l.lastCrierTick) < interval {
		return 0
	}

	snap, err := l.store.GetSnapshot()
	if err != nil {
		return 0
	}
	news := snap.World.News
	start := len(news) - l.cfg.TownCrierRecentWindow
	if start < 0 {
		start = 0
	}

	seen := map[string]bool{}
	for _, id := range l.crierSeen {
		seen[id] = true
	}

	broadcast := 0
	for i := len(news) - 1; i >= start && broadcast < l.cfg.TownCrierMaxPerTick; i-- {
		item := news[i]
		if seen[item.ID] {
			continue
		}
		line := fmt.Sprintf("[NEWS] %s", item.Message)
		if item.Town != "" {
			line = fmt.Sprintf("[NEWS:%s] %s", item.Town, item.Message)
		}
		if l.hooks.OnNews != nil {
			l.hooks.OnNews(line)
		}
		l.emitter.Emit(events.TypeNewsBroadcast, "town-crier", item.Town, map[string]any{
			"id":      item.ID,
			"message": item.Message,
		})
		l.crierSeen = world.AppendRing(l.crierSeen, item.ID, l.cfg.TownCrierDedupeWindow)
		broadcast++
	}
	l.lastCrierTick = tickAt
	return broadcast
}
