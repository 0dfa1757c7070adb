package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused = errors.New("module paused")
	ErrReentrant    = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard rejects a guarded call while another guarded call on the
// same instance is still in flight. The zero value is ready to use.
type ReentrancyGuard struct {
	mu      sync.Mutex
	entered bool
}

// Enter marks the guard as held and returns the release function. Callers
// must defer the release so the guard is dropped on every exit path.
func (g *ReentrancyGuard) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entered {
		return nil, ErrReentrant
	}
	g.entered = true
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.entered = false
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether a guarded call is currently in flight.
func (g *ReentrancyGuard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entered
}

// StaticPauses is a PauseView backed by a fixed set of module names.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
