package app

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/k11v/pages/internal/audit"
	"github.com/k11v/pages/internal/backend"
	"github.com/k11v/pages/internal/build"
)

func TestNewTimeoutReport(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	outcomes := []build.CancelOutcome{
		{BuildID: 7},
		{BuildID: 8, Err: fmt.Errorf("backend.Client: %w", backend.ErrTaskNotFound)},
		{BuildID: 9, Err: errors.New("unavailable")},
	}

	r := NewTimeoutReport(at, outcomes)

	want := []CancelResult{
		{BuildID: 7, Canceled: true},
		{BuildID: 8, NotFound: true, Error: "backend.Client: backend task not found"},
		{BuildID: 9, Error: "unavailable"},
	}
	if diff := cmp.Diff(want, r.Builds); diff != "" {
		t.Errorf("builds mismatch (-want +got):\n%s", diff)
	}
	if got, want := r.Failed(), 2; got != want {
		t.Errorf("got %d failed, want %d", got, want)
	}
	if r.RunID == "" {
		t.Errorf("got empty run id")
	}
}

func TestNewSiteAuditReport(t *testing.T) {
	r := NewSiteAuditReport(time.Now(), []audit.SiteOutcome{
		{SiteID: 1, Removed: []int64{2, 3}},
		{SiteID: 2, Skipped: true},
		{SiteID: 3, Removed: []int64{4}, Err: errors.New("connection reset")},
	})

	if got, want := r.Removed(), 3; got != want {
		t.Errorf("got %d removed, want %d", got, want)
	}
	if got, want := r.Failed(), 1; got != want {
		t.Errorf("got %d failed, want %d", got, want)
	}
	if !r.Sites[1].Skipped {
		t.Errorf("got site 2 not skipped, want skipped")
	}
}

func TestNewUserAuditReport(t *testing.T) {
	r := NewUserAuditReport(time.Now(), []audit.UserOutcome{
		{UserID: 1, Removed: []int64{10}},
		{UserID: 2, Err: errors.New("credential rejected")},
	})

	if got, want := r.Removed(), 1; got != want {
		t.Errorf("got %d removed, want %d", got, want)
	}
	if got, want := r.Failed(), 1; got != want {
		t.Errorf("got %d failed, want %d", got, want)
	}
}

func TestNewEnqueueResults(t *testing.T) {
	got := newEnqueueResults([]build.EnqueueOutcome{
		{TaskID: 1, Priority: 1},
		{TaskID: 2, Err: &build.InconsistencyError{TaskID: 2, Op: "commit", Err: errors.New("reset")}},
	})

	want := []EnqueueResult{
		{TaskID: 1, Priority: 1},
		{TaskID: 2, Inconsistent: true, Error: "task 2 published but commit failed: reset"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}
