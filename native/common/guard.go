package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module currently rejects mutations.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the module is paused. A nil view never
// pauses anything.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is an in-memory PauseView for operators and tests.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// Set toggles the pause flag of module.
func (p *Pauses) Set(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	p.paused[module] = paused
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// AnyPaused reports a module paused when any of the views does.
type AnyPaused []PauseView

// IsPaused implements PauseView.
func (a AnyPaused) IsPaused(module string) bool {
	for _, view := range a {
		if view != nil && view.IsPaused(module) {
			return true
		}
	}
	return false
}
