package usage

import (
	"strings"
	"sync"
)

// FreeLimit is the number of completions served on the operator credential
// before callers must bring their own key.
const FreeLimit = 3

// Status is a point-in-time view of the gate.
type Status struct {
	HasCustomKey bool   `json:"hasCustomKey"`
	APIKey       string `json:"apiKey"`
	Count        int    `json:"count"`
}

// Grant is handed out by Acquire. Override is the caller credential that was
// active when the call was admitted, empty while metered.
type Grant struct {
	Override string
	Metered  bool
	Count    int
}

// Gate meters free completions. A single Gate is shared by every caller of
// the process; there is no per-user partitioning.
type Gate struct {
	mu       sync.Mutex
	count    int
	override string

	listenMu sync.RWMutex
	onChange func(Status)
}

func NewGate() *Gate {
	return &Gate{}
}

// OnChange registers fn to be called after every state change. Only one
// listener is kept; fn runs outside the gate lock.
func (g *Gate) OnChange(fn func(Status)) {
	g.listenMu.Lock()
	g.onChange = fn
	g.listenMu.Unlock()
}

// Admit reports whether the next completion may proceed.
func (g *Gate) Admit() bool {
	_, ok := g.Acquire()
	return ok
}

// Acquire is Admit plus a snapshot of the override credential taken under
// the same lock. While metered the counter is incremented before the limit
// check, including on calls that are rejected.
func (g *Gate) Acquire() (Grant, bool) {
	g.mu.Lock()
	if g.override != "" {
		grant := Grant{Override: g.override, Count: g.count}
		g.mu.Unlock()
		return grant, true
	}
	g.count++
	grant := Grant{Metered: true, Count: g.count}
	st := g.statusLocked()
	g.mu.Unlock()

	g.notify(st)
	return grant, grant.Count <= FreeLimit
}

// Reset zeroes the counter and leaves the override alone.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.count = 0
	st := g.statusLocked()
	g.mu.Unlock()
	g.notify(st)
}

// SetOverride switches the gate to unmetered mode using key.
func (g *Gate) SetOverride(key string) {
	g.mu.Lock()
	g.override = key
	st := g.statusLocked()
	g.mu.Unlock()
	g.notify(st)
}

// ClearOverride drops the caller key and hands out a fresh free allotment.
func (g *Gate) ClearOverride() {
	g.mu.Lock()
	g.override = ""
	g.count = 0
	st := g.statusLocked()
	g.mu.Unlock()
	g.notify(st)
}

func (g *Gate) Override() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.override
}

func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

func (g *Gate) statusLocked() Status {
	return Status{HasCustomKey: g.override != "", APIKey: g.override, Count: g.count}
}

func (g *Gate) notify(st Status) {
	g.listenMu.RLock()
	fn := g.onChange
	g.listenMu.RUnlock()
	if fn != nil {
		fn(st)
	}
}

// MaskKey shortens a credential for logging.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
