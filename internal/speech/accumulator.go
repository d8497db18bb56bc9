package speech

import (
	"strings"
	"sync"
)

// Accumulator collects the final transcript segments of one recording.
// Segments are joined with a single space. Interim text never belongs here.
//
// The zero value is ready to use and safe for concurrent use.
type Accumulator struct {
	mu   sync.Mutex
	text string
}

// Append adds a final segment. Blank segments are ignored.
func (a *Accumulator) Append(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.text == "" {
		a.text = segment
		return
	}
	a.text += " " + segment
}

// String returns the text accumulated so far.
func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Reset discards the accumulated text.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.text = ""
	a.mu.Unlock()
}

// Take returns the accumulated text and clears it.
func (a *Accumulator) Take() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.text
	a.text = ""
	return t
}
