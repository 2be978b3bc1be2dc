package monitor

import (
	"sort"
	"sync"
	"time"
)

// Status is a published view of one loop.
type Status struct {
	Contract   string
	Phase      Phase
	State      State
	NextPollAt time.Time
	UpdatedAt  time.Time
}

// Board collects the latest status of every loop for display. Loops only
// write their own entry and never read the board back.
type Board struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewBoard() *Board {
	return &Board{statuses: make(map[string]Status)}
}

func (b *Board) Update(st Status) {
	st.State = st.State.clone()
	b.mu.Lock()
	b.statuses[st.Contract] = st
	b.mu.Unlock()
}

// Remove drops the entry published under contract.
func (b *Board) Remove(contract string) {
	b.mu.Lock()
	delete(b.statuses, contract)
	b.mu.Unlock()
}

// Snapshot returns copies of all statuses ordered by contract.
func (b *Board) Snapshot() []Status {
	b.mu.RLock()
	out := make([]Status, 0, len(b.statuses))
	for _, st := range b.statuses {
		st.State = st.State.clone()
		out = append(out, st)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Contract < out[j].Contract })
	return out
}
