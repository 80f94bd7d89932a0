package subtitle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/transcript"
)

func newTestAssembler() (*Assembler, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewAssembler(NewTracker(nil), m, zerolog.Nop()), m
}

func encoded(text string) []byte {
	return transcript.Encode(&transcript.Fragment{
		Seqnum: 1,
		Words:  []transcript.Word{{Text: text}},
	})
}

func TestAssembler_Handle(t *testing.T) {
	a, m := newTestAssembler()

	if err := a.Handle(encoded("the")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Handle(encoded("the quick")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := a.Tracker().Current(); got != "the quick" {
		t.Errorf("expected 'the quick', got %q", got)
	}
	if got := testutil.ToFloat64(m.SubtitleUpdates.WithLabelValues("false")); got != 2 {
		t.Errorf("expected 2 updates recorded, got %v", got)
	}
}

func TestAssembler_DecodeFailureLeavesSubtitle(t *testing.T) {
	a, m := newTestAssembler()
	a.Handle(encoded("stable"))

	err := a.Handle([]byte{0x52, 0x7f, 0x01})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !errors.Is(err, transcript.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if got := a.Tracker().Current(); got != "stable" {
		t.Errorf("expected subtitle to stay 'stable', got %q", got)
	}
	if got := testutil.ToFloat64(m.FragmentsDropped.WithLabelValues(metrics.DropReasonDecode)); got != 1 {
		t.Errorf("expected 1 decode drop, got %v", got)
	}
}

func TestAssembler_EmptyFragmentIsNotAnError(t *testing.T) {
	a, m := newTestAssembler()
	a.Handle(encoded("before"))

	if err := a.Handle(transcript.Encode(&transcript.Fragment{Seqnum: 2})); err != nil {
		t.Fatalf("expected no error for empty fragment, got %v", err)
	}
	if got := a.Tracker().Current(); got != "before" {
		t.Errorf("expected 'before', got %q", got)
	}
	if got := testutil.ToFloat64(m.FragmentsEmpty); got != 1 {
		t.Errorf("expected 1 empty fragment recorded, got %v", got)
	}
}

func TestAssembler_Run_DrainsChannel(t *testing.T) {
	a, _ := newTestAssembler()
	in := make(chan []byte, 4)
	in <- encoded("a")
	in <- []byte{0xff}
	in <- encoded("a b")
	close(in)

	done := make(chan struct{})
	go func() {
		a.Run(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}

	if got := a.Tracker().Current(); got != "a b" {
		t.Errorf("expected 'a b', got %q", got)
	}
}

func TestAssembler_Run_StopsOnContext(t *testing.T) {
	a, _ := newTestAssembler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		a.Run(ctx, make(chan []byte))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
