// Package subtitle maintains the current subtitle of a session from the
// stream of transcript fragments.
package subtitle

import (
	"sync/atomic"
	"time"

	"live-subtitles-service/internal/transcript"
)

// Snapshot is the current subtitle together with the fragment metadata that
// produced it. The metadata is informational only.
type Snapshot struct {
	Text       string
	UID        int64
	Seqnum     int32
	Lang       int32
	IsFinal    bool
	Confidence float64
	UpdatedAt  time.Time
}

// Listener is notified after every change of the current subtitle.
// Implementations must not block.
type Listener interface {
	// OnSubtitle is called after a fragment overwrote the current subtitle.
	OnSubtitle(s Snapshot)

	// OnCleared is called after Reset.
	OnCleared()
}

// Listeners fans a change out to several listeners in order.
type Listeners []Listener

// OnSubtitle implements Listener.
func (ls Listeners) OnSubtitle(s Snapshot) {
	for _, l := range ls {
		l.OnSubtitle(s)
	}
}

// OnCleared implements Listener.
func (ls Listeners) OnCleared() {
	for _, l := range ls {
		l.OnCleared()
	}
}

// Tracker holds the single current-subtitle slot of one session.
//
// Every fragment with at least one word overwrites the slot with the text of
// its first word, whether or not that word is final. Fragments without words
// leave the slot unchanged. Reads are lock-free and never block.
type Tracker struct {
	current  atomic.Pointer[Snapshot]
	listener Listener
	now      func() time.Time
}

// NewTracker creates a tracker with an empty subtitle. listener may be nil.
func NewTracker(listener Listener) *Tracker {
	t := &Tracker{
		listener: listener,
		now:      time.Now,
	}
	t.current.Store(&Snapshot{})
	return t
}

// OnFragment applies f and reports whether the current subtitle was replaced.
func (t *Tracker) OnFragment(f *transcript.Fragment) bool {
	w, ok := f.Sentence()
	if !ok {
		return false
	}

	s := &Snapshot{
		Text:       w.Text,
		UID:        f.UID,
		Seqnum:     f.Seqnum,
		Lang:       f.Lang,
		IsFinal:    w.IsFinal,
		Confidence: w.Confidence,
		UpdatedAt:  t.now(),
	}
	t.current.Store(s)

	if t.listener != nil {
		t.listener.OnSubtitle(*s)
	}
	return true
}

// Reset clears the current subtitle.
func (t *Tracker) Reset() {
	t.current.Store(&Snapshot{UpdatedAt: t.now()})
	if t.listener != nil {
		t.listener.OnCleared()
	}
}

// Current returns the current subtitle text.
func (t *Tracker) Current() string {
	return t.current.Load().Text
}

// Snapshot returns the current subtitle and its metadata.
func (t *Tracker) Snapshot() Snapshot {
	return *t.current.Load()
}
