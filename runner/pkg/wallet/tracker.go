package wallet

import (
	"sort"
	"sync"
	"time"
)

// Status is the live view of one wallet.
type Status struct {
	Index       int       `json:"index"`
	Address     string    `json:"address"`
	State       State     `json:"state"`
	CurrentTask string    `json:"current_task,omitempty"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Pending     int       `json:"pending"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracker holds the latest Status of every wallet seen in this process.
type Tracker struct {
	mu     sync.RWMutex
	status map[int]Status
}

func NewTracker() *Tracker {
	return &Tracker{status: map[int]Status{}}
}

func (t *Tracker) update(index int, fn func(*Status)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status[index]
	s.Index = index
	fn(&s)
	s.UpdatedAt = time.Now().UTC()
	t.status[index] = s
}

// Set replaces the status stored for s.Index.
func (t *Tracker) Set(s Status) {
	t.update(s.Index, func(cur *Status) { *cur = s })
}

func (t *Tracker) Get(index int) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.status[index]
	return s, ok
}

// Snapshot returns every status ordered by wallet index.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Status, 0, len(t.status))
	for _, s := range t.status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
