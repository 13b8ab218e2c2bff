package ui

import "sync"

type boardEntry struct {
	mu    sync.Mutex
	state State
}

// Board keeps the display state of every visitor in memory.
type Board struct {
	mu      sync.Mutex
	entries map[string]*boardEntry
}

func NewBoard() *Board {
	return &Board{entries: make(map[string]*boardEntry)}
}

func (b *Board) entry(visitor string) *boardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[visitor]
	if !ok {
		e = &boardEntry{}
		b.entries[visitor] = e
	}
	return e
}

// Snapshot returns the current state of visitor.
func (b *Board) Snapshot(visitor string) State {
	e := b.entry(visitor)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Update runs fn while holding the visitor's lock, so two submissions from the
// same visitor never start from the same state. The result of fn is stored
// even when it returns an error.
func (b *Board) Update(visitor string, fn func(State) (State, error)) (State, error) {
	e := b.entry(visitor)
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(e.state)
	e.state = next
	return next, err
}
