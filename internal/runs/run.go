package runs

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/pipeline"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	ID              uuid.UUID                    `json:"run_id"`
	Status          discovery.RunStatus          `json:"status"`
	Mode            discovery.Mode               `json:"mode"`
	Step            string                       `json:"step,omitempty"`
	Processed       int                          `json:"processed"`
	Total           int                          `json:"total"`
	Candidates      int                          `json:"candidates"`
	Repositories    int                          `json:"repositories"`
	Outcomes        map[discovery.RepoState]int  `json:"outcomes,omitempty"`
	Records         []discovery.RepositoryRecord `json:"records,omitempty"`
	ExportURI       string                       `json:"export_uri,omitempty"`
	Error           string                       `json:"error,omitempty"`
	CancelRequested bool                         `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	FinishedAt      *time.Time                   `json:"finished_at,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	if s.Outcomes != nil {
		outcomes := make(map[discovery.RepoState]int, len(s.Outcomes))
		for k, v := range s.Outcomes {
			outcomes[k] = v
		}
		s.Outcomes = outcomes
	}
	s.Records = append([]discovery.RepositoryRecord(nil), s.Records...)
	return s
}

type message interface{ apply(*Snapshot) }

type progressMsg struct{ update pipeline.Update }

func (m progressMsg) apply(s *Snapshot) {
	u := m.update
	if s.Status == discovery.RunPending {
		s.Status = discovery.RunInProgress
	}
	s.Step = u.Step
	switch u.Milestone {
	case pipeline.MilestoneSearched:
		s.Candidates = u.Found
	case pipeline.MilestoneRepository:
		s.Processed, s.Total = u.Current, u.Total
		if s.Outcomes == nil {
			s.Outcomes = make(map[discovery.RepoState]int)
		}
		s.Outcomes[u.Outcome]++
	}
}

type finishMsg struct {
	result pipeline.Result
	err    error
	at     time.Time
}

func (m finishMsg) apply(s *Snapshot) {
	res := m.result
	s.Status = res.Status
	if m.err != nil {
		s.Status = discovery.RunFailed
		s.Error = m.err.Error()
	}
	s.Candidates = res.Candidates
	s.Repositories = res.Repositories
	s.Outcomes = res.Outcomes
	s.Records = res.Records
	s.ExportURI = res.ExportURI
	at := m.at
	s.FinishedAt = &at
}

type cancelMsg struct{}

func (cancelMsg) apply(s *Snapshot) {
	s.CancelRequested = true
}

type snapshotMsg struct{ reply chan Snapshot }

func (snapshotMsg) apply(*Snapshot) {}

// Run is one pipeline execution. Its Snapshot is owned by a single goroutine
// that applies messages in arrival order.
type Run struct {
	id        uuid.UUID
	cancelled atomic.Bool
	inbox     chan message
	done      chan struct{}
}

func newRun(id uuid.UUID, snap Snapshot, retention time.Duration, stop <-chan struct{}, expire func()) *Run {
	r := &Run{
		id:    id,
		inbox: make(chan message, 64),
		done:  make(chan struct{}),
	}
	go r.loop(snap, retention, stop, expire)
	return r
}

// ID returns the run id.
func (r *Run) ID() uuid.UUID {
	return r.id
}

// Cancelled reports whether cancellation was requested.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Snapshot returns the current state, or false once the run has expired.
func (r *Run) Snapshot() (Snapshot, bool) {
	reply := make(chan Snapshot, 1)
	if !r.send(snapshotMsg{reply: reply}) {
		return Snapshot{}, false
	}
	select {
	case s := <-reply:
		return s, true
	case <-r.done:
		return Snapshot{}, false
	}
}

func (r *Run) send(m message) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	}
}

func (r *Run) loop(snap Snapshot, retention time.Duration, stop <-chan struct{}, expire func()) {
	defer close(r.done)
	var expired <-chan time.Time
	for {
		select {
		case m := <-r.inbox:
			m.apply(&snap)
			if req, ok := m.(snapshotMsg); ok {
				req.reply <- snap.clone()
			}
			if _, ok := m.(finishMsg); ok && expired == nil {
				timer := time.NewTimer(retention)
				defer timer.Stop()
				expired = timer.C
			}
		case <-expired:
			if expire != nil {
				expire()
			}
			return
		case <-stop:
			return
		}
	}
}
