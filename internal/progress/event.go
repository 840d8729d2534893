package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageSearchDone   Stage = "SEARCH_DONE"
	StageFetchStart   Stage = "FETCH_START"
	StageRepoDone     Stage = "REPO_DONE"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageRunCancelled Stage = "RUN_CANCELLED"
)

// Terminal reports whether no further events follow for the run.
func (s Stage) Terminal() bool {
	switch s {
	case StageRunDone, StageRunError, StageRunCancelled:
		return true
	default:
		return false
	}
}

// Event is one progress milestone of a run.
type Event struct {
	RunID uuid.UUID `json:"run_id"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Step is the human-readable label shown to operators.
	Step      string `json:"step"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	// RepoURL, Outcome and Score are set on REPO_DONE.
	RepoURL string `json:"repo_url,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Score   int    `json:"score,omitempty"`
	// Dur is the run wall time on terminal stages.
	Dur  time.Duration `json:"duration_ns,omitempty"`
	Note string        `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageSearchDone, StageFetchStart, StageRunDone, StageRunError, StageRunCancelled:
	case StageRepoDone:
		if e.RepoURL == "" {
			return errors.New("repo done requires repo url")
		}
		if e.Outcome == "" {
			return errors.New("repo done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Processed < 0 || e.Total < 0 {
		return errors.New("counters must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
