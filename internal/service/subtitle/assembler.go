package subtitle

import (
	"context"

	"github.com/rs/zerolog"

	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/transcript"
)

// Assembler decodes raw fragments and feeds them to a Tracker.
// Handle does no I/O and returns as soon as the tracker is updated.
type Assembler struct {
	tracker *Tracker
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewAssembler creates an assembler feeding tracker.
func NewAssembler(tracker *Tracker, m *metrics.Metrics, logger zerolog.Logger) *Assembler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Assembler{
		tracker: tracker,
		metrics: m,
		log:     logger,
	}
}

// Tracker returns the tracker fed by this assembler.
func (a *Assembler) Tracker() *Tracker {
	return a.tracker
}

// Handle decodes one raw fragment and applies it.
//
// A fragment that fails to decode is dropped and the current subtitle is
// left untouched; the decode error is returned for reporting only.
// A fragment without words is not an error.
func (a *Assembler) Handle(raw []byte) error {
	f, err := transcript.Decode(raw)
	if err != nil {
		a.metrics.RecordFragmentDropped(metrics.DropReasonDecode)
		a.log.Warn().
			Err(err).
			Int("bytes", len(raw)).
			Msg("Dropping undecodable transcript fragment")
		return err
	}

	if !a.tracker.OnFragment(f) {
		a.metrics.RecordEmptyFragment()
		a.log.Debug().
			Int32("seqnum", f.Seqnum).
			Int64("uid", f.UID).
			Msg("Fragment without words ignored")
		return nil
	}

	s := a.tracker.Snapshot()
	a.metrics.RecordSubtitleUpdate(s.IsFinal)
	a.log.Debug().
		Int32("seqnum", f.Seqnum).
		Int64("uid", f.UID).
		Bool("isFinal", s.IsFinal).
		Str("text", s.Text).
		Msg("Subtitle updated")
	return nil
}

// Run handles fragments from in until in is closed or ctx is done.
func (a *Assembler) Run(ctx context.Context, in <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			_ = a.Handle(raw)
		}
	}
}
