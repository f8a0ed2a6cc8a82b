package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type evalStep struct {
	visible bool
	err     error
}

// scriptedEval replays steps, repeating the last one, and runs onCall (if
// set) before answering.
type scriptedEval struct {
	steps  []evalStep
	calls  int
	exprs  []string
	onCall func(call int)
}

func (s *scriptedEval) eval(_ context.Context, expr string, out *bool) error {
	s.calls++
	s.exprs = append(s.exprs, expr)
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	step := s.steps[len(s.steps)-1]
	if s.calls <= len(s.steps) {
		step = s.steps[s.calls-1]
	}
	*out = step.visible
	return step.err
}

func newTestChromedpPage(ev *scriptedEval) *ChromedpPage {
	return &ChromedpPage{pollInterval: time.Millisecond, eval: ev.eval}
}

func TestChromedpWaitFor(t *testing.T) {
	boom := errors.New("invalid target")
	spinner := ByCSS("svg.spinner")

	tests := []struct {
		name      string
		state     string
		timeout   time.Duration
		steps     []evalStep
		cancelOn  int
		wantCalls int
		check     func(t *testing.T, err error)
	}{
		{
			name:      "visible after polling",
			state:     StateVisible,
			steps:     []evalStep{{visible: false}, {visible: false}, {visible: true}},
			wantCalls: 3,
			check:     wantNoError,
		},
		{
			name:      "detached element counts as hidden",
			state:     StateHidden,
			timeout:   time.Second,
			steps:     []evalStep{{visible: true}, {visible: false}},
			wantCalls: 2,
			check:     wantNoError,
		},
		{
			name:    "bounded expiry is a wait timeout",
			state:   StateHidden,
			timeout: 20 * time.Millisecond,
			steps:   []evalStep{{visible: true}},
			check: func(t *testing.T, err error) {
				t.Helper()
				var wt *WaitTimeoutError
				if !errors.As(err, &wt) {
					t.Fatalf("err = %v; want *WaitTimeoutError", err)
				}
				if wt.State != StateHidden || wt.Timeout != 20*time.Millisecond {
					t.Fatalf("WaitTimeoutError = %+v; want hidden/20ms", wt)
				}
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Fatalf("err = %v; want to unwrap to DeadlineExceeded", err)
				}
			},
		},
		{
			name:     "parent cancel is not a wait timeout",
			state:    StateVisible,
			timeout:  time.Hour,
			steps:    []evalStep{{visible: false}},
			cancelOn: 2,
			check: func(t *testing.T, err error) {
				t.Helper()
				var wt *WaitTimeoutError
				if errors.As(err, &wt) {
					t.Fatalf("err = %v; cancel must not look like a wait timeout", err)
				}
				if !errors.Is(err, context.Canceled) {
					t.Fatalf("err = %v; want context.Canceled", err)
				}
			},
		},
		{
			name:  "navigation race is retried",
			state: StateVisible,
			steps: []evalStep{
				{err: errors.New("Execution context was destroyed, most likely because of a navigation")},
				{visible: true},
			},
			wantCalls: 2,
			check:     wantNoError,
		},
		{
			name:      "other eval errors are fatal",
			state:     StateHidden,
			timeout:   time.Second,
			steps:     []evalStep{{err: boom}},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				t.Helper()
				var wt *WaitTimeoutError
				if errors.As(err, &wt) {
					t.Fatalf("err = %v; want a fatal error, not a wait timeout", err)
				}
				if !errors.Is(err, boom) {
					t.Fatalf("err = %v; want wrapped %v", err, boom)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ev := &scriptedEval{steps: tt.steps}
			if tt.cancelOn > 0 {
				ev.onCall = func(call int) {
					if call == tt.cancelOn {
						cancel()
					}
				}
			}
			p := newTestChromedpPage(ev)

			var err error
			if tt.state == StateVisible {
				err = p.WaitVisible(ctx, spinner, tt.timeout)
			} else {
				err = p.WaitHidden(ctx, spinner, tt.timeout)
			}
			tt.check(t, err)
			if tt.wantCalls > 0 && ev.calls != tt.wantCalls {
				t.Fatalf("eval calls = %d; want %d", ev.calls, tt.wantCalls)
			}
			if ev.exprs[0] != visibilityExpr(spinner) {
				t.Fatalf("eval expr = %q; want visibility expression", ev.exprs[0])
			}
		})
	}
}

func TestChromedpWaitForParentDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	p := newTestChromedpPage(&scriptedEval{steps: []evalStep{{visible: true}}})
	err := p.WaitHidden(ctx, ByCSS("svg.spinner"), time.Hour)

	var wt *WaitTimeoutError
	if errors.As(err, &wt) {
		t.Fatalf("err = %v; the run deadline must not look like a wait timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v; want context.DeadlineExceeded", err)
	}
}

func TestChromedpWaitForRejectsEmptyLocator(t *testing.T) {
	ev := &scriptedEval{steps: []evalStep{{visible: true}}}
	if err := newTestChromedpPage(ev).WaitVisible(context.Background(), Locator{}, 0); err == nil {
		t.Fatal("WaitVisible() = nil for empty locator")
	}
	if ev.calls != 0 {
		t.Fatalf("eval calls = %d; want 0", ev.calls)
	}
}

func TestChromedpClickFirstVisibleMatch(t *testing.T) {
	trigger := ByText("a", "AI Auto-tag")

	ev := &scriptedEval{steps: []evalStep{{visible: true}}}
	if err := newTestChromedpPage(ev).Click(context.Background(), trigger); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if got, want := ev.exprs[0], clickExpr(trigger); got != want {
		t.Fatalf("click expr = %q; want %q", got, want)
	}

	ev = &scriptedEval{steps: []evalStep{{visible: false}}}
	err := newTestChromedpPage(ev).Click(context.Background(), trigger)
	if err == nil || !strings.Contains(err.Error(), "no visible match") {
		t.Fatalf("Click() error = %v; want no visible match", err)
	}

	boom := errors.New("invalid target")
	ev = &scriptedEval{steps: []evalStep{{err: boom}}}
	if err := newTestChromedpPage(ev).Click(context.Background(), trigger); !errors.Is(err, boom) {
		t.Fatalf("Click() error = %v; want wrapped %v", err, boom)
	}
}

func TestFirstPageTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[
			{"id":"SW1","type":"service_worker","url":"chrome-extension://x"},
			{"id":"PAGE1","type":"page","url":"about:blank"},
			{"id":"PAGE2","type":"page","url":"https://getdex.com"}
		]`))
	}))
	defer srv.Close()

	id, err := firstPageTarget(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("firstPageTarget() error = %v", err)
	}
	if got, want := id, "PAGE1"; got != want {
		t.Fatalf("firstPageTarget() = %q; want %q", got, want)
	}
}

func TestFirstPageTargetNoPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"SW1","type":"service_worker"}]`))
	}))
	defer srv.Close()

	id, err := firstPageTarget(context.Background(), srv.URL)
	if err != nil || id != "" {
		t.Fatalf("firstPageTarget() = %q, %v; want empty, nil", id, err)
	}
}

func TestFirstPageTargetHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := firstPageTarget(context.Background(), srv.URL); err == nil {
		t.Fatal("firstPageTarget() = nil error; want HTTP 500 error")
	}
}

func wantNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("err = %v; want nil", err)
	}
}
