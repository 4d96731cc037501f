// Package lifecycle implements the appointment status state machine.
//
//	requested -> confirmed | cancelled | completed
//	confirmed -> cancelled | completed
//	cancelled, completed -> (terminal)
//
// Every transition belongs to the assigned provider; authorization is
// checked before state validity.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
)

// Transition applies an explicit confirm/cancel action to an appointment.
// The returned record is a copy with the new status; the caller persists it.
func Transition(appt model.Appointment, target model.Status, caller model.Identity) (model.Appointment, error) {
	if err := requireAssignedProvider(appt, caller); err != nil {
		return model.Appointment{}, err
	}
	if target != model.StatusConfirmed && target != model.StatusCancelled {
		return model.Appointment{}, fmt.Errorf("%w: status must be %q or %q", model.ErrValidation, model.StatusConfirmed, model.StatusCancelled)
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("%w: appointment is already %s", model.ErrValidation, appt.Status)
	}

	appt.Status = target
	return appt, nil
}

// Complete records the provider's session comment and marks the appointment
// completed in one step. Comment text, status, and the completion timestamp
// form a single update.
func Complete(appt model.Appointment, comment string, caller model.Identity, now time.Time) (model.Appointment, error) {
	if err := requireAssignedProvider(appt, caller); err != nil {
		return model.Appointment{}, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return model.Appointment{}, fmt.Errorf("%w: comment is required", model.ErrValidation)
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("%w: appointment is already %s", model.ErrValidation, appt.Status)
	}

	ts := now.UTC()
	appt.Status = model.StatusCompleted
	appt.Comment = comment
	appt.CommentedAt = &ts
	return appt, nil
}

func requireAssignedProvider(appt model.Appointment, caller model.Identity) error {
	if caller.Role != model.RoleProvider || caller.Subject != appt.ProviderID {
		return fmt.Errorf("%w: only the assigned provider may update this appointment", model.ErrForbidden)
	}
	return nil
}
