// Package scheduling orchestrates slot queries and the appointment
// lifecycle over an external store. The package holds no cross-request
// state; every query re-reads the store, and every mutation is a single
// atomic unit executed by the Store implementation.
package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinika/clinicsched/services/scheduling-service/internal/availability"
	"github.com/clinika/clinicsched/services/scheduling-service/internal/lifecycle"
	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Store is the persistence boundary for the scheduling core.
//
// BookAppointment and TransitionAppointment must run as one transaction
// with read-then-write isolation: the check/apply callback observes the
// committed state and its decision commits atomically with the write. A
// lost booking race surfaces as model.ErrConflict.
type Store interface {
	ListWindows(ctx context.Context, providerID string) ([]model.AvailabilityWindow, error)
	AddWindow(ctx context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error)
	ListDayAppointments(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error)
	BookAppointment(ctx context.Context, appt model.Appointment, check func(existing []model.Appointment) error) (model.Appointment, error)
	TransitionAppointment(ctx context.Context, appointmentID string, apply func(model.Appointment) (model.Appointment, error)) (model.Appointment, error)
	ListProviderAppointments(ctx context.Context, providerID string, from time.Time) ([]model.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID string) ([]model.Appointment, error)
}

type Service struct {
	store        Store
	slotDuration time.Duration
	now          func() time.Time
}

func New(store Store, slotDuration time.Duration) *Service {
	return &Service{
		store:        store,
		slotDuration: slotDuration,
		now:          time.Now,
	}
}

// ListAvailableSlots returns the provider's open slots for one day in
// chronological order. A malformed date fails before any store access.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID, dateStr string) ([]model.Slot, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider_id is required", model.ErrValidation)
	}
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, err
	}

	windows, err := s.store.ListWindows(ctx, providerID)
	if err != nil {
		return nil, err
	}
	candidates := availability.ExpandWindows(date, windows, s.slotDuration)
	if len(candidates) == 0 {
		return []model.Slot{}, nil
	}

	existing, err := s.store.ListDayAppointments(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	open := make([]model.Slot, 0, len(candidates))
	for _, slot := range candidates {
		if availability.IsFree(slot, existing) {
			open = append(open, slot)
		}
	}
	return open, nil
}

// BookingRequest carries the raw booking input as it arrives from the
// transport boundary.
type BookingRequest struct {
	ProviderID string
	PatientID  string
	Date       string
	StartTime  string
	EndTime    string
}

// CreateAppointment validates and commits a new appointment with status
// requested. The interval is re-checked against the live appointment set
// inside the store transaction; a race lost at commit time surfaces as
// model.ErrConflict.
func (s *Service) CreateAppointment(ctx context.Context, caller model.Identity, req BookingRequest) (model.Appointment, error) {
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.ProviderID == "" || req.PatientID == "" {
		return model.Appointment{}, fmt.Errorf("%w: provider_id and patient_id are required", model.ErrValidation)
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return model.Appointment{}, err
	}
	start, err := parseClock(date, req.StartTime, "start_time")
	if err != nil {
		return model.Appointment{}, err
	}
	end, err := parseClock(date, req.EndTime, "end_time")
	if err != nil {
		return model.Appointment{}, err
	}
	if !end.After(start) {
		return model.Appointment{}, fmt.Errorf("%w: end_time must be after start_time", model.ErrValidation)
	}

	if !canBookFor(caller, req.ProviderID, req.PatientID) {
		return model.Appointment{}, fmt.Errorf("%w: caller may not book this appointment", model.ErrForbidden)
	}

	appt := model.Appointment{
		ProviderID: req.ProviderID,
		PatientID:  req.PatientID,
		Date:       date,
		StartTime:  start,
		EndTime:    end,
		Status:     model.StatusRequested,
	}

	return s.store.BookAppointment(ctx, appt, func(existing []model.Appointment) error {
		slot := model.Slot{Date: date, StartTime: start, EndTime: end}
		if !availability.IsFree(slot, existing) {
			return fmt.Errorf("%w: requested time is no longer available", model.ErrValidation)
		}
		return nil
	})
}

// UpdateStatus confirms or cancels an appointment on behalf of its provider.
func (s *Service) UpdateStatus(ctx context.Context, caller model.Identity, appointmentID, statusRaw string) (model.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment_id is required", model.ErrValidation)
	}
	target, err := model.ParseStatus(strings.TrimSpace(statusRaw))
	if err != nil {
		return model.Appointment{}, err
	}

	return s.store.TransitionAppointment(ctx, appointmentID, func(appt model.Appointment) (model.Appointment, error) {
		return lifecycle.Transition(appt, target, caller)
	})
}

// SubmitComment records the provider's session comment and completes the
// appointment.
func (s *Service) SubmitComment(ctx context.Context, caller model.Identity, appointmentID, comment string) (model.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment_id is required", model.ErrValidation)
	}

	now := s.now()
	return s.store.TransitionAppointment(ctx, appointmentID, func(appt model.Appointment) (model.Appointment, error) {
		return lifecycle.Complete(appt, comment, caller, now)
	})
}

// AddAvailability registers a recurring weekly window for a provider.
func (s *Service) AddAvailability(ctx context.Context, caller model.Identity, w model.AvailabilityWindow) (model.AvailabilityWindow, error) {
	w.ProviderID = strings.TrimSpace(w.ProviderID)
	if w.ProviderID == "" {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: provider_id is required", model.ErrValidation)
	}
	if w.Weekday < 0 || w.Weekday > 6 {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: weekday must be between 0 (Monday) and 6 (Sunday)", model.ErrValidation)
	}
	if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: window start must be before window end", model.ErrValidation)
	}
	if caller.Role != model.RoleAdmin && !(caller.Role == model.RoleProvider && caller.Subject == w.ProviderID) {
		return model.AvailabilityWindow{}, fmt.Errorf("%w: caller may not manage this provider's availability", model.ErrForbidden)
	}
	return s.store.AddWindow(ctx, w)
}

// ProviderSchedule returns a provider's recurring windows together with all
// of their appointments, for the provider's management view.
func (s *Service) ProviderSchedule(ctx context.Context, providerID string) ([]model.AvailabilityWindow, []model.Appointment, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, nil, fmt.Errorf("%w: provider_id is required", model.ErrValidation)
	}
	windows, err := s.store.ListWindows(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	appts, err := s.store.ListProviderAppointments(ctx, providerID, time.Time{})
	if err != nil {
		return nil, nil, err
	}
	return windows, appts, nil
}

// UpcomingForProvider returns the calling provider's appointments from now
// on, ordered by date and start time.
func (s *Service) UpcomingForProvider(ctx context.Context, caller model.Identity) ([]model.Appointment, error) {
	if caller.Role != model.RoleProvider {
		return nil, fmt.Errorf("%w: caller is not a provider", model.ErrForbidden)
	}
	return s.store.ListProviderAppointments(ctx, caller.Subject, s.now().UTC())
}

// HistoryForPatient returns the calling patient's appointments, newest
// first.
func (s *Service) HistoryForPatient(ctx context.Context, caller model.Identity) ([]model.Appointment, error) {
	if caller.Role != model.RolePatient {
		return nil, fmt.Errorf("%w: caller is not a patient", model.ErrForbidden)
	}
	return s.store.ListPatientAppointments(ctx, caller.Subject)
}

func canBookFor(caller model.Identity, providerID, patientID string) bool {
	switch caller.Role {
	case model.RoleAdmin:
		return true
	case model.RolePatient:
		return caller.Subject == patientID
	case model.RoleProvider:
		return caller.Subject == providerID
	}
	return false
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: date is required (YYYY-MM-DD)", model.ErrValidation)
	}
	d, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, use YYYY-MM-DD", model.ErrValidation, raw)
	}
	return d, nil
}

func parseClock(date time.Time, raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required (HH:MM)", model.ErrValidation, field)
	}
	c, err := time.Parse(clockLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s %q, use HH:MM", model.ErrValidation, field, raw)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour(), c.Minute(), 0, 0, time.UTC), nil
}
