package main

import (
	"sort"
	"sync"
)

// presence tracks which agents the shell has seen and who has unread chat.
// It satisfies worldloop.Presence.
type presence struct {
	mu      sync.Mutex
	online  map[string]bool
	pending map[string]bool
	leaders map[string]string
}

func newPresence() *presence {
	return &presence{
		online:  map[string]bool{},
		pending: map[string]bool{},
		leaders: map[string]string{},
	}
}

func (p *presence) markOnline(agent string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[agent] = true
}

func (p *presence) setPending(agent string, pending bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[agent] = pending
}

// OnlineAgents returns the sorted set of agents seen this session.
func (p *presence) OnlineAgents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	agents := make([]string, 0, len(p.online))
	for agent := range p.online {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	return agents
}

// HasPendingChat reports whether the agent has an unanswered message.
func (p *presence) HasPendingChat(agent string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[agent]
}

// LeaderFor returns the agent's follow target, if any.
func (p *presence) LeaderFor(agent string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaders[agent]
}
