package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgnsrekt/dex_autotag/internal/gate"
	"github.com/dgnsrekt/dex_autotag/internal/tagger"
)

type staticRun struct{ st tagger.Status }

func (r staticRun) Status() tagger.Status { return r.st }

func TestHealth(t *testing.T) {
	h := NewServer(staticRun{}, gate.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status body = %q; want ok", body.Status)
	}
}

func TestGetRunReturnsStatus(t *testing.T) {
	run := staticRun{st: tagger.Status{RunID: "r1", Phase: tagger.PhaseProcessing, CurrentID: "42", Index: 3, Total: 10, Tagged: 2, Skipped: 1}}
	h := NewServer(run, gate.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/run", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body %s", rec.Code, rec.Body.String())
	}
	var got tagger.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got.RunID != "r1" || got.CurrentID != "42" || got.Tagged != 2 || got.Skipped != 1 || got.Total != 10 {
		t.Fatalf("status = %+v", got)
	}
}

func TestResumeReleasesGateOnce(t *testing.T) {
	l := gate.New()
	h := NewServer(staticRun{}, l)

	for i, want := range []bool{true, false} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/run/resume", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d status = %d; want 200, body %s", i, rec.Code, rec.Body.String())
		}
		var body struct {
			Released bool `json:"released"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("json.Unmarshal() error = %v", err)
		}
		if body.Released != want {
			t.Fatalf("call %d released = %v; want %v", i, body.Released, want)
		}
	}
	if !l.Released() {
		t.Fatal("gate not released after resume")
	}
}
