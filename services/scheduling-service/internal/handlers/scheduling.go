package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinika/clinicsched/libs/auth"
	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
	"github.com/clinika/clinicsched/services/scheduling-service/internal/scheduling"
)

type SchedulingHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewSchedulingHandler(svc *scheduling.Service, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{svc: svc, logger: logger}
}

type slotItem struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type createAppointmentRequest struct {
	ProviderID string `json:"provider_id"`
	PatientID  string `json:"patient_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	PatientID     string `json:"patient_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Comment       string `json:"comment,omitempty"`
	CommentedAt   string `json:"comment_updated_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type updateStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type commentRequest struct {
	AppointmentID string `json:"appointment_id"`
	Comment       string `json:"comment"`
}

type availabilityWindowItem struct {
	ID          string `json:"id,omitempty"`
	ProviderID  string `json:"provider_id"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

// Slots serves the public slot listing. No auth required.
func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	slots, err := h.svc.ListAvailableSlots(r.Context(), q.Get("provider_id"), q.Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			Date:      s.Date.Format("2006-01-02"),
			StartTime: s.StartTime.UTC().Format("15:04"),
			EndTime:   s.EndTime.UTC().Format("15:04"),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *SchedulingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.CreateAppointment(r.Context(), caller, scheduling.BookingRequest{
		ProviderID: req.ProviderID,
		PatientID:  req.PatientID,
		Date:       req.Date,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

func (h *SchedulingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), caller, req.AppointmentID, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *SchedulingHandler) Comment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.SubmitComment(r.Context(), caller, req.AppointmentID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *SchedulingHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	appts, err := h.svc.UpcomingForProvider(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toAppointmentItems(appts)})
}

func (h *SchedulingHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	appts, err := h.svc.HistoryForPatient(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toAppointmentItems(appts)})
}

// Availability lists a provider's recurring windows on GET and adds one on POST.
func (h *SchedulingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		providerID := r.URL.Query().Get("provider_id")
		if providerID == "" {
			providerID = caller.Subject
		}
		windows, appts, err := h.svc.ProviderSchedule(r.Context(), providerID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		items := make([]availabilityWindowItem, 0, len(windows))
		for _, win := range windows {
			items = append(items, toWindowItem(win))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"windows":      items,
			"appointments": toAppointmentItems(appts),
		})

	case http.MethodPost:
		var req availabilityWindowItem
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		win, err := h.svc.AddAvailability(r.Context(), caller, model.AvailabilityWindow{
			ProviderID:  req.ProviderID,
			Weekday:     req.Weekday,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWindowItem(win))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SchedulingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func callerIdentity(r *http.Request) (model.Identity, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return model.Identity{}, false
	}
	return model.Identity{Subject: claims.Sub, Role: model.Role(claims.Role)}, true
}

func toAppointmentItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: appt.ID,
		ProviderID:    appt.ProviderID,
		PatientID:     appt.PatientID,
		Date:          appt.Date.Format("2006-01-02"),
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
		Comment:       appt.Comment,
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CommentedAt != nil {
		item.CommentedAt = appt.CommentedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func toAppointmentItems(appts []model.Appointment) []appointmentItem {
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentItem(appt))
	}
	return items
}

func toWindowItem(w model.AvailabilityWindow) availabilityWindowItem {
	return availabilityWindowItem{
		ID:          w.ID,
		ProviderID:  w.ProviderID,
		Weekday:     w.Weekday,
		StartMinute: w.StartMinute,
		EndMinute:   w.EndMinute,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
