// Package mock provides a simulated transcription source for running the
// service without a transcription vendor. It produces the same encoded
// fragments a vendor pushes: progressive partial sentences followed by
// exactly one final sentence per utterance.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"live-subtitles-service/internal/transcript"
)

// Sink receives encoded fragments.
type Sink interface {
	Deliver(raw []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(raw []byte) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(raw []byte) error { return f(raw) }

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial sentences
	Final      string   // Final sentence text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"the", "the quick", "the quick brown"},
		Final:      "the quick brown fox jumps over the lazy dog",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"good", "good morning"},
		Final:      "good morning everyone",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"can you", "can you see", "can you see my"},
		Final:      "can you see my screen",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"let's", "let's get", "let's get started"},
		Final:      "let's get started with the agenda",
		Confidence: 0.89,
	},
}

const msPerWord = 300

// Source simulates one speaker. Sequence numbers increase across calls.
type Source struct {
	uid        int64
	lang       int32
	utterances []SimulatedUtterance

	mu      sync.Mutex
	seqnum  int32
	cursor  int   // next utterance
	clockMs int32 // start of the next utterance
}

// New creates a source speaking DefaultUtterances as uid.
func New(uid int64) *Source {
	return NewWithUtterances(uid, DefaultUtterances)
}

// NewWithUtterances creates a source speaking utterances as uid.
func NewWithUtterances(uid int64, utterances []SimulatedUtterance) *Source {
	return &Source{
		uid:        uid,
		utterances: utterances,
	}
}

// Next returns the encoded fragments of the next utterance, cycling through
// the configured utterances.
func (s *Source) Next() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.utterances) == 0 {
		return nil
	}
	utt := s.utterances[s.cursor%len(s.utterances)]
	s.cursor++

	out := make([][]byte, 0, len(utt.Partials)+1)
	for _, text := range utt.Partials {
		out = append(out, s.encode(text, false, 0))
	}
	out = append(out, s.encode(utt.Final, true, utt.Confidence))

	s.clockMs += int32(wordCount(utt.Final) * msPerWord)
	return out
}

// Fragments returns the encoded fragments of one full pass over the
// utterances.
func (s *Source) Fragments() [][]byte {
	var out [][]byte
	for range s.utterances {
		out = append(out, s.Next()...)
	}
	return out
}

// Stream delivers fragments to sink every interval until ctx is done. It
// returns nil when ctx ends and the sink's error if a delivery fails.
func (s *Source) Stream(ctx context.Context, sink Sink, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("stream interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		batch := s.Next()
		if batch == nil {
			return nil
		}
		for _, raw := range batch {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if err := sink.Deliver(raw); err != nil {
				return fmt.Errorf("deliver simulated fragment: %w", err)
			}
		}
	}
}

// encode builds one fragment; s.mu must be held.
func (s *Source) encode(text string, final bool, confidence float64) []byte {
	s.seqnum++
	now := time.Now()
	duration := int32(wordCount(text) * msPerWord)

	return transcript.Encode(&transcript.Fragment{
		Vendor:    1,
		Version:   1,
		Seqnum:    s.seqnum,
		UID:       s.uid,
		Time:      now.UnixMilli(),
		Lang:      s.lang,
		StartTime: s.clockMs,
		OffTime:   s.clockMs + duration,
		Words: []transcript.Word{{
			Text:       text,
			StartMs:    s.clockMs,
			DurationMs: duration,
			IsFinal:    final,
			Confidence: confidence,
		}},
	})
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
