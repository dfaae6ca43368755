package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StagePhaseStart Stage = "PHASE_START"
	StagePhaseDone  Stage = "PHASE_DONE"
	StageUnitDone   Stage = "UNIT_DONE"
	StageUnitFailed Stage = "UNIT_FAILED"
)

// Phase names used on events.
const (
	PhaseDiscovery = "discovery"
	PhaseArticles  = "articles"
	PhasePersist   = "persist"
)

// Event captures one harvest milestone.
type Event struct {
	RunID string
	TS    time.Time
	Stage Stage
	// Phase is required for phase and unit events.
	Phase  string
	Region string
	URL    string
	// Done, Total and Active describe the phase at the time of the event.
	Done   int
	Total  int
	Active int64
	// Records is the number of records a unit or run produced.
	Records int
	Dur     time.Duration
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePhaseStart, StagePhaseDone, StageUnitDone, StageUnitFailed:
		if e.Phase == "" {
			return fmt.Errorf("%s requires phase", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
