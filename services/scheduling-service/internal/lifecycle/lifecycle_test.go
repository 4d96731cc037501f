package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
)

func appt(status model.Status) model.Appointment {
	return model.Appointment{
		ID:         "appt-1",
		ProviderID: "prov-1",
		PatientID:  "pat-1",
		Status:     status,
	}
}

var provider = model.Identity{Subject: "prov-1", Role: model.RoleProvider}

func TestTransition_RequestedToConfirmed(t *testing.T) {
	got, err := Transition(appt(model.StatusRequested), model.StatusConfirmed, provider)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if got.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
}

func TestTransition_ConfirmedToCancelled(t *testing.T) {
	got, err := Transition(appt(model.StatusConfirmed), model.StatusCancelled, provider)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestTransition_TerminalIsImmutable(t *testing.T) {
	for _, status := range []model.Status{model.StatusCancelled, model.StatusCompleted} {
		_, err := Transition(appt(status), model.StatusConfirmed, provider)
		if !errors.Is(err, model.ErrValidation) {
			t.Fatalf("expected validation error from %s, got %v", status, err)
		}
	}
}

func TestTransition_CompletedNotAValidTarget(t *testing.T) {
	_, err := Transition(appt(model.StatusRequested), model.StatusCompleted, provider)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransition_AuthorizationBeforeStateValidity(t *testing.T) {
	// A wrong caller on a terminal appointment must see 403, not 400.
	wrongProvider := model.Identity{Subject: "prov-2", Role: model.RoleProvider}
	_, err := Transition(appt(model.StatusCancelled), model.StatusConfirmed, wrongProvider)
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	patient := model.Identity{Subject: "pat-1", Role: model.RolePatient}
	_, err = Transition(appt(model.StatusRequested), model.StatusConfirmed, patient)
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected forbidden for patient caller, got %v", err)
	}
}

func TestComplete_SetsCommentAndTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC)
	got, err := Complete(appt(model.StatusConfirmed), "  patient responded well  ", provider, now)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Comment != "patient responded well" {
		t.Fatalf("expected trimmed comment, got %q", got.Comment)
	}
	if got.CommentedAt == nil || !got.CommentedAt.Equal(now) {
		t.Fatalf("expected comment timestamp %s, got %v", now, got.CommentedAt)
	}
}

func TestComplete_BlankCommentRejected(t *testing.T) {
	_, err := Complete(appt(model.StatusRequested), "   ", provider, time.Now())
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestComplete_TerminalRejected(t *testing.T) {
	_, err := Complete(appt(model.StatusCompleted), "again", provider, time.Now())
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
