package server

import "sync"

// DialogState is what the modal surface shows.
type DialogState struct {
	Message string `json:"message"`
	Visible bool   `json:"visible"`
}

// Dialog is the single modal message surface. A new message replaces the current one.
type Dialog struct {
	state DialogState
	mu    sync.Mutex
}

// Show displays message.
func (d *Dialog) Show(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DialogState{Message: message, Visible: true}
}

// Current returns what the dialog shows.
func (d *Dialog) Current() DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Dismiss closes the dialog and clears its message.
func (d *Dialog) Dismiss() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DialogState{}
}
