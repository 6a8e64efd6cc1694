package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		booking, code, details := bookingFromRequest(req, svc)
		if code != "" {
			writeError(w, http.StatusBadRequest, code, details)
			return
		}
		booking.PatientID = patientID

		appt, err := svc.Book(r.Context(), booking)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

// bookingFromRequest resolves either a slot_id or an explicit doctor/date/start/end tuple.
func bookingFromRequest(req CreateAppointmentRequest, svc *appointment.Service) (appointment.BookingRequest, string, string) {
	booking := appointment.BookingRequest{Reason: req.Reason}

	if req.SlotID != "" {
		slot, err := appointment.ParseSlotID(req.SlotID, svc.Location())
		if err != nil {
			return booking, "invalid_slot_id", "slot_id must look like doctor|YYYY-MM-DD|HH:MM|HH:MM"
		}
		booking.DoctorID = slot.DoctorID
		booking.Date = slot.Date
		booking.Start = slot.Start
		booking.End = slot.End
		return booking, "", ""
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return booking, "invalid_doctor_id", "doctor_id must be a valid UUID"
	}
	date, err := appointment.ParseDate(req.Date, svc.Location())
	if err != nil {
		return booking, "invalid_date", "date must be YYYY-MM-DD"
	}
	start, err := appointment.ParseTimeOfDay(req.Start)
	if err != nil {
		return booking, "invalid_start", "start must be HH:MM"
	}
	end, err := appointment.ParseTimeOfDay(req.End)
	if err != nil {
		return booking, "invalid_end", "end must be HH:MM"
	}

	booking.DoctorID = doctorID
	booking.Date = date
	booking.Start = start
	booking.End = end
	return booking, "", ""
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.CompleteAppointment(r.Context(), id)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func patientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_patient_id")
		if !ok {
			return
		}

		includePast := r.URL.Query().Get("include_past") == "true"
		list, err := svc.PatientAppointments(r.Context(), id, includePast)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not list appointments")
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// listSlotsHandler enumerates free slots across available doctors. duration (minutes), limit and
// horizon_days override the configured defaults.
func listSlotsHandler(svc *appointment.Service, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		duration, ok := intQuery(w, q.Get("duration"), int(cfg.SlotDuration/time.Minute), "invalid_duration")
		if !ok {
			return
		}
		limit, ok := intQuery(w, q.Get("limit"), cfg.MaxSlotResults, "invalid_limit")
		if !ok {
			return
		}
		horizon, ok := intQuery(w, q.Get("horizon_days"), cfg.SlotHorizonDays, "invalid_horizon_days")
		if !ok {
			return
		}

		doctors, err := svc.AvailableDoctors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not list doctors")
			return
		}

		offers, err := svc.EnumerateSlots(r.Context(), doctors, time.Duration(duration)*time.Minute, limit, horizon)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not enumerate slots")
			return
		}
		if offers == nil {
			offers = []appointment.SlotOffer{}
		}

		writeJSON(w, http.StatusOK, SlotsResponse{Slots: offers})
	}
}

func nextSlotHandler(svc *appointment.Service, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		q := r.URL.Query()
		from := svc.Now()
		if raw := q.Get("from"); raw != "" {
			date, err := appointment.ParseDate(raw, svc.Location())
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
				return
			}
			from = date
		}
		duration, ok := intQuery(w, q.Get("duration"), int(cfg.SlotDuration/time.Minute), "invalid_duration")
		if !ok {
			return
		}

		slot, err := svc.FindNextSlot(r.Context(), doctorID, from, time.Duration(duration)*time.Minute)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not search slots")
			return
		}

		resp := NextSlotResponse{}
		if slot != nil {
			resp.Slot = &SlotResponse{
				SlotID:   appointment.SlotID(*slot),
				DoctorID: slot.DoctorID,
				Date:     appointment.FormatDate(slot.Date),
				Start:    slot.Start,
				End:      slot.End,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrOutOfSchedule):
		writeError(w, http.StatusUnprocessableEntity, "out_of_schedule", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrDoctorBusy), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "doctor_busy", "calendar is being updated, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not book appointment")
	}
}

func handleLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not update appointment")
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(w http.ResponseWriter, raw string, fallback int, code string) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, code, "must be a positive integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
