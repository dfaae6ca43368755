package sinks

import (
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/interpelli-crawler/internal/progress"
)

// ConsoleSink prints one line per phase milestone and unit completion, e.g.
// "phase articles: 12/50 active, 140/300 done".
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink writes progress lines to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Consume renders each event.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		var err error
		switch evt.Stage {
		case progress.StagePhaseStart:
			_, err = fmt.Fprintf(s.w, "phase %s: started, %d units\n", evt.Phase, evt.Total)
		case progress.StageUnitDone, progress.StageUnitFailed:
			_, err = fmt.Fprintf(s.w, "phase %s: %d active, %d/%d done\n", evt.Phase, evt.Active, evt.Done, evt.Total)
		case progress.StagePhaseDone:
			_, err = fmt.Fprintf(s.w, "phase %s: finished in %s\n", evt.Phase, evt.Dur.Round(1e6))
		case progress.StageRunDone:
			_, err = fmt.Fprintf(s.w, "run %s: %d records in %s\n", evt.RunID, evt.Records, evt.Dur.Round(1e6))
		}
		if err != nil {
			return fmt.Errorf("write progress line: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ConsoleSink) Close(context.Context) error {
	return nil
}
