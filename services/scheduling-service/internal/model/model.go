package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the scheduling domain. Handlers translate these to
// HTTP statuses; storage translates driver errors into them.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("booking conflict")
	ErrNotFound   = errors.New("not found")
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Identity is the resolved caller, produced by the auth boundary.
type Identity struct {
	Subject string
	Role    Role
}

type Status string

const (
	StatusRequested Status = "requested"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusRequested, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// AvailabilityWindow is a recurring weekly interval during which a provider
// accepts appointments. Weekday uses 0 = Monday through 6 = Sunday; the
// clock interval is stored as minutes since midnight, half-open.
type AvailabilityWindow struct {
	ID          string
	ProviderID  string
	Weekday     int
	StartMinute int
	EndMinute   int
}

type Appointment struct {
	ID          string
	ProviderID  string
	PatientID   string
	Date        time.Time // midnight UTC of the appointment day
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	Comment     string
	CommentedAt *time.Time
	CreatedAt   time.Time
}

// Slot is a bookable candidate interval. Slots are derived per query and
// never persisted.
type Slot struct {
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
}

// WeekdayIndex maps a date to the Monday-based index used by
// AvailabilityWindow.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
