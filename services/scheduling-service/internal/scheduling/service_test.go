package scheduling

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
)

// fakeStore keeps everything in memory and applies the booking check and
// transition callbacks synchronously, like a single-connection database.
type fakeStore struct {
	windows      []model.AvailabilityWindow
	appointments []model.Appointment
	nextID       int
	calls        int

	bookErr error
}

func (f *fakeStore) ListWindows(_ context.Context, providerID string) ([]model.AvailabilityWindow, error) {
	f.calls++
	var out []model.AvailabilityWindow
	for _, w := range f.windows {
		if w.ProviderID == providerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) AddWindow(_ context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error) {
	f.calls++
	w.ID = "win-1"
	f.windows = append(f.windows, w)
	return w, nil
}

func (f *fakeStore) ListDayAppointments(_ context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	f.calls++
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.ProviderID == providerID && a.Date.Equal(date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) BookAppointment(ctx context.Context, appt model.Appointment, check func([]model.Appointment) error) (model.Appointment, error) {
	f.calls++
	if f.bookErr != nil {
		return model.Appointment{}, f.bookErr
	}
	existing, _ := f.ListDayAppointments(ctx, appt.ProviderID, appt.Date)
	if err := check(existing); err != nil {
		return model.Appointment{}, err
	}
	f.nextID++
	appt.ID = "appt-" + strconv.Itoa(f.nextID)
	appt.CreatedAt = time.Now().UTC()
	f.appointments = append(f.appointments, appt)
	return appt, nil
}

func (f *fakeStore) TransitionAppointment(_ context.Context, appointmentID string, apply func(model.Appointment) (model.Appointment, error)) (model.Appointment, error) {
	f.calls++
	for i, a := range f.appointments {
		if a.ID == appointmentID {
			updated, err := apply(a)
			if err != nil {
				return model.Appointment{}, err
			}
			f.appointments[i] = updated
			return updated, nil
		}
	}
	return model.Appointment{}, model.ErrNotFound
}

func (f *fakeStore) ListProviderAppointments(_ context.Context, providerID string, from time.Time) ([]model.Appointment, error) {
	f.calls++
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.ProviderID != providerID {
			continue
		}
		if !from.IsZero() && a.StartTime.Before(from) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) ListPatientAppointments(_ context.Context, patientID string) ([]model.Appointment, error) {
	f.calls++
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

// 2026-01-28 is a Wednesday, weekday index 2.
const wednesdayStr = "2026-01-28"

var wednesday = time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)

var (
	patient  = model.Identity{Subject: "pat-1", Role: model.RolePatient}
	provider = model.Identity{Subject: "prov-1", Role: model.RoleProvider}
	admin    = model.Identity{Subject: "adm-1", Role: model.RoleAdmin}
)

func newTestService(store Store) *Service {
	return New(store, 45*time.Minute)
}

func TestListAvailableSlots_FiltersBusy(t *testing.T) {
	store := &fakeStore{
		windows: []model.AvailabilityWindow{
			{ProviderID: "prov-1", Weekday: 2, StartMinute: 9 * 60, EndMinute: 10*60 + 30},
		},
		appointments: []model.Appointment{
			{
				ID: "appt-busy", ProviderID: "prov-1", PatientID: "pat-2",
				Date:      wednesday,
				StartTime: wednesday.Add(9 * time.Hour),
				EndTime:   wednesday.Add(9*time.Hour + 45*time.Minute),
				Status:    model.StatusConfirmed,
			},
		},
	}
	svc := newTestService(store)

	slots, err := svc.ListAvailableSlots(context.Background(), "prov-1", wednesdayStr)
	if err != nil {
		t.Fatalf("ListAvailableSlots failed: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 open slot, got %d", len(slots))
	}
	if !slots[0].StartTime.Equal(wednesday.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected open slot 09:45, got %s", slots[0].StartTime.Format(time.RFC3339))
	}
}

func TestListAvailableSlots_Deterministic(t *testing.T) {
	store := &fakeStore{
		windows: []model.AvailabilityWindow{
			{ProviderID: "prov-1", Weekday: 2, StartMinute: 13 * 60, EndMinute: 15 * 60},
			{ProviderID: "prov-1", Weekday: 2, StartMinute: 9 * 60, EndMinute: 11 * 60},
		},
	}
	svc := newTestService(store)

	first, err := svc.ListAvailableSlots(context.Background(), "prov-1", wednesdayStr)
	if err != nil {
		t.Fatalf("ListAvailableSlots failed: %v", err)
	}
	second, err := svc.ListAvailableSlots(context.Background(), "prov-1", wednesdayStr)
	if err != nil {
		t.Fatalf("ListAvailableSlots failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("slot count changed between identical queries: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].StartTime.Equal(second[i].StartTime) {
			t.Fatalf("slot order changed at index %d", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if !first[i-1].StartTime.Before(first[i].StartTime) {
			t.Fatalf("slots out of order at index %d", i)
		}
	}
}

func TestListAvailableSlots_BadDateFailsBeforeStore(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	_, err := svc.ListAvailableSlots(context.Background(), "prov-1", "28/01/2026")
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("store must not be touched on malformed input, saw %d calls", store.calls)
	}
}

func TestCreateAppointment_PatientBooksForSelf(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	appt, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{
		ProviderID: "prov-1", PatientID: "pat-1",
		Date: wednesdayStr, StartTime: "09:00", EndTime: "09:45",
	})
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}
	if appt.Status != model.StatusRequested {
		t.Fatalf("expected requested status, got %s", appt.Status)
	}
	if appt.ID == "" {
		t.Fatal("expected assigned appointment id")
	}
}

func TestCreateAppointment_PatientCannotBookForOther(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	_, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{
		ProviderID: "prov-1", PatientID: "pat-2",
		Date: wednesdayStr, StartTime: "09:00", EndTime: "09:45",
	})
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateAppointment_AdminBooksForAnyone(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	_, err := svc.CreateAppointment(context.Background(), admin, BookingRequest{
		ProviderID: "prov-1", PatientID: "pat-9",
		Date: wednesdayStr, StartTime: "09:00", EndTime: "09:45",
	})
	if err != nil {
		t.Fatalf("CreateAppointment failed for admin: %v", err)
	}
}

func TestCreateAppointment_OverlapRejected(t *testing.T) {
	store := &fakeStore{
		appointments: []model.Appointment{
			{
				ID: "appt-busy", ProviderID: "prov-1", PatientID: "pat-2",
				Date:      wednesday,
				StartTime: wednesday.Add(9 * time.Hour),
				EndTime:   wednesday.Add(9*time.Hour + 45*time.Minute),
				Status:    model.StatusRequested,
			},
		},
	}
	svc := newTestService(store)

	_, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{
		ProviderID: "prov-1", PatientID: "pat-1",
		Date: wednesdayStr, StartTime: "09:30", EndTime: "10:15",
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for overlap, got %v", err)
	}
}

func TestCreateAppointment_ConflictFromStore(t *testing.T) {
	store := &fakeStore{bookErr: model.ErrConflict}
	svc := newTestService(store)

	_, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{
		ProviderID: "prov-1", PatientID: "pat-1",
		Date: wednesdayStr, StartTime: "09:00", EndTime: "09:45",
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateAppointment_EndBeforeStart(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	_, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{
		ProviderID: "prov-1", PatientID: "pat-1",
		Date: wednesdayStr, StartTime: "10:00", EndTime: "10:00",
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("store must not be touched on invalid interval, saw %d calls", store.calls)
	}
}

func TestUpdateStatus_ProviderConfirms(t *testing.T) {
	store := &fakeStore{
		appointments: []model.Appointment{
			{ID: "appt-1", ProviderID: "prov-1", PatientID: "pat-1", Status: model.StatusRequested},
		},
	}
	svc := newTestService(store)

	appt, err := svc.UpdateStatus(context.Background(), provider, "appt-1", "confirmed")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.UpdateStatus(context.Background(), provider, "appt-1", "archived")
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateStatus_MissingAppointment(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.UpdateStatus(context.Background(), provider, "appt-404", "confirmed")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitComment_CompletesAppointment(t *testing.T) {
	store := &fakeStore{
		appointments: []model.Appointment{
			{ID: "appt-1", ProviderID: "prov-1", PatientID: "pat-1", Status: model.StatusConfirmed},
		},
	}
	svc := newTestService(store)
	fixed := time.Date(2026, 1, 28, 16, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	appt, err := svc.SubmitComment(context.Background(), provider, "appt-1", "all good")
	if err != nil {
		t.Fatalf("SubmitComment failed: %v", err)
	}
	if appt.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", appt.Status)
	}
	if appt.CommentedAt == nil || !appt.CommentedAt.Equal(fixed) {
		t.Fatalf("expected comment timestamp %s, got %v", fixed, appt.CommentedAt)
	}
}

func TestAddAvailability_ProviderOwnsWindow(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	win, err := svc.AddAvailability(context.Background(), provider, model.AvailabilityWindow{
		ProviderID: "prov-1", Weekday: 2, StartMinute: 9 * 60, EndMinute: 17 * 60,
	})
	if err != nil {
		t.Fatalf("AddAvailability failed: %v", err)
	}
	if win.ID == "" {
		t.Fatal("expected assigned window id")
	}

	_, err = svc.AddAvailability(context.Background(), provider, model.AvailabilityWindow{
		ProviderID: "prov-2", Weekday: 2, StartMinute: 9 * 60, EndMinute: 17 * 60,
	})
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign provider window, got %v", err)
	}
}

func TestAddAvailability_InvalidWindow(t *testing.T) {
	svc := newTestService(&fakeStore{})

	cases := []model.AvailabilityWindow{
		{ProviderID: "prov-1", Weekday: 7, StartMinute: 9 * 60, EndMinute: 10 * 60},
		{ProviderID: "prov-1", Weekday: 2, StartMinute: 10 * 60, EndMinute: 10 * 60},
		{ProviderID: "prov-1", Weekday: 2, StartMinute: -10, EndMinute: 10 * 60},
	}
	for i, w := range cases {
		if _, err := svc.AddAvailability(context.Background(), admin, w); !errors.Is(err, model.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestUpcomingForProvider_RoleEnforced(t *testing.T) {
	svc := newTestService(&fakeStore{})
	if _, err := svc.UpcomingForProvider(context.Background(), patient); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestHistoryForPatient_RoleEnforced(t *testing.T) {
	svc := newTestService(&fakeStore{})
	if _, err := svc.HistoryForPatient(context.Background(), provider); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
