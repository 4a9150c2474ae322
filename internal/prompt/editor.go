package prompt

import (
	"errors"
	"fmt"
	"sync"
)

type Mode string

const (
	ModeDefault Mode = "default"
	ModeCustom  Mode = "custom"
)

// ErrReadOnly is returned when the draft is edited while the default template is active.
var ErrReadOnly = errors.New("prompt is read-only in default mode; switch to custom to edit")

// Snapshot is the editor state at one instant.
type Snapshot struct {
	Mode      Mode   `json:"mode"`
	Draft     string `json:"draft"`
	Effective string `json:"effective"`
}

// Listener receives the effective prompt after every change.
type Listener func(effective string)

// Editor holds the prompt configuration for one page session. The effective
// prompt is the template in default mode and the draft in custom mode.
type Editor struct {
	mu        sync.Mutex
	mode      Mode
	draft     string
	listeners []Listener
}

func NewEditor() *Editor {
	return &Editor{mode: ModeDefault, draft: DefaultTemplate()}
}

// Subscribe registers fn and immediately hands it the current effective prompt.
func (e *Editor) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	effective := e.effectiveLocked()
	e.mu.Unlock()
	fn(effective)
}

func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Mode: e.mode, Draft: e.draft, Effective: e.effectiveLocked()}
}

func (e *Editor) Effective() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveLocked()
}

// SetMode switches modes. The draft survives a round trip through default mode.
func (e *Editor) SetMode(mode Mode) error {
	if mode != ModeDefault && mode != ModeCustom {
		return fmt.Errorf("unknown prompt mode %q", mode)
	}
	e.mu.Lock()
	e.mode = mode
	e.notifyLocked()
	return nil
}

// Edit replaces the draft. Only allowed in custom mode.
func (e *Editor) Edit(text string) error {
	e.mu.Lock()
	if e.mode != ModeCustom {
		e.mu.Unlock()
		return ErrReadOnly
	}
	e.draft = text
	e.notifyLocked()
	return nil
}

// Reset overwrites the draft with the default template in either mode.
func (e *Editor) Reset() {
	e.mu.Lock()
	e.draft = DefaultTemplate()
	e.notifyLocked()
}

func (e *Editor) effectiveLocked() string {
	if e.mode == ModeCustom {
		return e.draft
	}
	return DefaultTemplate()
}

// notifyLocked releases the lock before calling listeners so they may read the editor.
func (e *Editor) notifyLocked() {
	effective := e.effectiveLocked()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(effective)
	}
}
