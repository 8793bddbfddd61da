// File: internal/view/notifier.go
package view

import (
	"sync"
	"time"
)

type Severity string

const (
	SeverityNone    Severity = ""
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notice struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

// clearAfter is how long a success message stays up before auto-clearing.
const clearAfter = 3000 * time.Millisecond

// Notifier holds the single current user-facing message. Every call replaces
// the message and cancels any pending auto-clear; success messages re-arm the
// timer, error messages persist until dismissed or replaced.
type Notifier struct {
	mu         sync.Mutex
	cur        Notice
	gen        int
	timer      *time.Timer
	clearDelay time.Duration
	onChange   func(Notice)
}

func NewNotifier(onChange func(Notice)) *Notifier {
	return &Notifier{clearDelay: clearAfter, onChange: onChange}
}

func (n *Notifier) Success(text string) { n.set(Notice{Text: text, Severity: SeveritySuccess}) }
func (n *Notifier) Error(text string)   { n.set(Notice{Text: text, Severity: SeverityError}) }
func (n *Notifier) Clear()              { n.set(Notice{}) }

func (n *Notifier) Current() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cur
}

func (n *Notifier) set(msg Notice) {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.cur = msg
	n.gen++
	gen := n.gen
	if msg.Severity == SeveritySuccess {
		n.timer = time.AfterFunc(n.clearDelay, func() { n.clearIf(gen) })
	}
	fn := n.onChange
	n.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// clearIf drops the message only if no newer one replaced it; a stopped
// timer's late fire is a no-op.
func (n *Notifier) clearIf(gen int) {
	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return
	}
	n.cur = Notice{}
	n.gen++
	n.timer = nil
	fn := n.onChange
	msg := n.cur
	n.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
