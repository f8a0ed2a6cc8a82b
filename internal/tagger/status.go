package tagger

import "time"

// Run phases.
const (
	PhaseInit          = "init"
	PhaseAwaitingLogin = "awaiting_login"
	PhaseProcessing    = "processing"
	PhaseDone          = "done"
	PhaseFailed        = "failed"
)

// Outcomes of a processed contact.
const (
	OutcomeTagged  = "tagged"
	OutcomeSkipped = "skipped"
)

// Status is a point-in-time view of a run.
type Status struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	CurrentID string    `json:"current_contact_id,omitempty"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Tagged    int       `json:"tagged"`
	Skipped   int       `json:"skipped"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Result is the outcome of one contact.
type Result struct {
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	ContactID string        `json:"contact_id"`
	URL       string        `json:"url"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"-"`
	At        time.Time     `json:"at"`
}

// Status returns a copy of the current run status. Safe for concurrent use.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) setPhase(phase string) {
	d.update(func(s *Status) { s.Phase = phase })
}

func (d *Driver) update(fn func(*Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.status)
}
