package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/dex_autotag/internal/browser"
	"github.com/dgnsrekt/dex_autotag/internal/contacts"
	"github.com/google/uuid"
)

// IDPlaceholder is replaced with the contact identifier in DetailURLTemplate.
const IDPlaceholder = "{id}"

const (
	DefaultIndicatorTimeout = 30 * time.Second
	DefaultSettleDelay      = time.Second
)

// Gate blocks until the operator has logged in by hand.
type Gate interface {
	Wait(ctx context.Context) error
}

// Recorder receives the outcome of every processed contact.
type Recorder interface {
	Record(Result)
}

// Options describe the target application and the wait policy.
type Options struct {
	LoginURL          string
	DetailURLTemplate string
	IDField           string
	Trigger           browser.Locator
	Indicator         browser.Locator

	// IndicatorTimeout bounds the wait for the indicator to hide. Expiry
	// skips the contact.
	IndicatorTimeout time.Duration
	// TriggerTimeout and IndicatorAppearTimeout are unbounded when <= 0.
	// Expiry of either aborts the run.
	TriggerTimeout         time.Duration
	IndicatorAppearTimeout time.Duration
	SettleDelay            time.Duration
}

// Driver runs the tagging workflow over one page.
type Driver struct {
	page     browser.Page
	gate     Gate
	opts     Options
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	mu     sync.Mutex
	status Status
}

// Option customises a Driver.
type Option func(*Driver)

// WithRecorder attaches an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithRunID sets the run id instead of a generated one.
func WithRunID(id string) Option {
	return func(d *Driver) { d.status.RunID = id }
}

func NewDriver(page browser.Page, gate Gate, opts Options, options ...Option) *Driver {
	if opts.IndicatorTimeout <= 0 {
		opts.IndicatorTimeout = DefaultIndicatorTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	d := &Driver{
		page:   page,
		gate:   gate,
		opts:   opts,
		sleep:  sleepContext,
		now:    time.Now,
		status: Status{Phase: PhaseInit},
	}
	for _, o := range options {
		o(d)
	}
	if d.status.RunID == "" {
		d.status.RunID = uuid.NewString()
	}
	return d
}

// RunID identifies this run in logs, journal and status.
func (d *Driver) RunID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status.RunID
}

// Run opens the login page, waits for the operator, then tags every record
// in order. Only an indicator-hidden timeout is survivable; any other error
// stops the run with a *RunError.
func (d *Driver) Run(ctx context.Context, records []contacts.Record) error {
	d.update(func(s *Status) {
		s.Total = len(records)
		s.StartedAt = d.now()
	})

	slog.Info("opening login page", "run_id", d.RunID(), "url", d.opts.LoginURL)
	if err := d.page.Navigate(ctx, d.opts.LoginURL); err != nil {
		return d.fail(&RunError{Index: -1, Step: StepLogin, Err: err})
	}

	d.setPhase(PhaseAwaitingLogin)
	slog.Info("waiting for manual login, press Enter or POST /api/v1/run/resume when done")
	if err := d.gate.Wait(ctx); err != nil {
		return d.fail(&RunError{Index: -1, Step: StepLogin, Err: err})
	}

	d.setPhase(PhaseProcessing)
	for i, rec := range records {
		if err := d.process(ctx, i, rec); err != nil {
			return d.fail(err)
		}
	}

	st := d.Status()
	d.setPhase(PhaseDone)
	slog.Info("run complete", "run_id", st.RunID, "total", st.Total, "tagged", st.Tagged, "skipped", st.Skipped)
	return nil
}

func (d *Driver) process(ctx context.Context, index int, rec contacts.Record) error {
	id, ok := rec.Get(d.opts.IDField)
	if !ok || id == "" {
		slog.Warn("contact has no id", "field", d.opts.IDField, "line", rec.Line(), "index", index)
	}
	target := DetailURL(d.opts.DetailURLTemplate, id)
	started := d.now()

	d.update(func(s *Status) {
		s.Index = index
		s.CurrentID = id
	})

	wrap := func(step string, err error) error {
		return &RunError{Index: index, ContactID: id, Step: step, Err: err}
	}

	if err := d.page.Navigate(ctx, target); err != nil {
		return wrap(StepNavigate, err)
	}
	slog.Info("opening contact page", "contact_id", id, "index", index, "url", target)

	if err := d.page.WaitVisible(ctx, d.opts.Trigger, d.opts.TriggerTimeout); err != nil {
		return wrap(StepTriggerVisible, err)
	}
	if err := d.page.Click(ctx, d.opts.Trigger); err != nil {
		return wrap(StepClick, err)
	}
	if err := d.page.WaitVisible(ctx, d.opts.Indicator, d.opts.IndicatorAppearTimeout); err != nil {
		return wrap(StepIndicatorVisible, err)
	}

	outcome := OutcomeTagged
	err := d.page.WaitHidden(ctx, d.opts.Indicator, d.opts.IndicatorTimeout)
	var timeout *browser.WaitTimeoutError
	switch {
	case err == nil:
		slog.Info("ai tags added", "contact_id", id)
	case errors.As(err, &timeout) && ctx.Err() == nil:
		outcome = OutcomeSkipped
		slog.Warn("indicator timeout, skipping contact", "contact_id", id, "timeout", d.opts.IndicatorTimeout)
	default:
		return wrap(StepIndicatorHidden, err)
	}

	d.update(func(s *Status) {
		if outcome == OutcomeTagged {
			s.Tagged++
		} else {
			s.Skipped++
		}
	})
	if d.recorder != nil {
		d.recorder.Record(Result{
			RunID:     d.RunID(),
			Index:     index,
			ContactID: id,
			URL:       target,
			Outcome:   outcome,
			Duration:  d.now().Sub(started),
			At:        d.now(),
		})
	}

	if err := d.sleep(ctx, d.opts.SettleDelay); err != nil {
		return wrap(StepSettle, err)
	}
	return nil
}

func (d *Driver) fail(err error) error {
	d.update(func(s *Status) {
		s.Phase = PhaseFailed
		s.LastError = err.Error()
	})
	return err
}

// DetailURL substitutes the path-escaped id into template.
func DetailURL(template, id string) string {
	return strings.ReplaceAll(template, IDPlaceholder, url.PathEscape(id))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunError is a fatal failure that ended the run.
type RunError struct {
	// Index is the record position, or -1 before the first record.
	Index     int
	ContactID string
	Step      string
	Err       error
}

func (e *RunError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("contact %q (record %d) %s: %v", e.ContactID, e.Index, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Steps named in RunError.
const (
	StepLogin            = "login"
	StepNavigate         = "navigate"
	StepTriggerVisible   = "wait trigger visible"
	StepClick            = "click trigger"
	StepIndicatorVisible = "wait indicator visible"
	StepIndicatorHidden  = "wait indicator hidden"
	StepSettle           = "settle"
)
