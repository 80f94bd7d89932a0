// Package participants tracks who is in a call, hiding the transcription
// agent from user-facing lists.
package participants

import (
	"sort"
	"sync"
)

// DefaultAgentUID is the UID the reference backend gives its transcription bot.
const DefaultAgentUID int64 = 101

// Roster is the participant list of one channel. The agent UID is
// configurable because it depends on the backend deployment.
type Roster struct {
	mu       sync.RWMutex
	agentUID int64
	members  map[int64]struct{}
}

// NewRoster creates an empty roster that hides agentUID.
func NewRoster(agentUID int64) *Roster {
	return &Roster{
		agentUID: agentUID,
		members:  make(map[int64]struct{}),
	}
}

// AgentUID returns the hidden agent UID.
func (r *Roster) AgentUID() int64 {
	return r.agentUID
}

// IsAgent reports whether uid is the transcription agent.
func (r *Roster) IsAgent(uid int64) bool {
	return uid == r.agentUID
}

// Join records uid as present. It reports whether uid is a visible participant.
func (r *Roster) Join(uid int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[uid] = struct{}{}
	return !r.IsAgent(uid)
}

// Leave removes uid. It reports whether uid was present.
func (r *Roster) Leave(uid int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[uid]; !ok {
		return false
	}
	delete(r.members, uid)
	return true
}

// AgentPresent reports whether the transcription agent has joined.
func (r *Roster) AgentPresent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[r.agentUID]
	return ok
}

// List returns the visible participants in ascending UID order.
func (r *Roster) List() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.members))
	for uid := range r.members {
		if !r.IsAgent(uid) {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Filter returns uids without the agent, preserving order.
func (r *Roster) Filter(uids []int64) []int64 {
	out := make([]int64, 0, len(uids))
	for _, uid := range uids {
		if !r.IsAgent(uid) {
			out = append(out, uid)
		}
	}
	return out
}
