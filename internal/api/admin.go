package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
)

func listDoctorsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not list doctors")
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for i := range doctors {
			resp = append(resp, toDoctorResponse(&doctors[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Available == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "available must be a boolean")
			return
		}

		doctor, err := svc.SetDoctorAvailability(r.Context(), id, *req.Available)
		if err != nil {
			handleDoctorError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
	}
}

func releaseDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		doctor, err := svc.ReleaseDoctor(r.Context(), id)
		if err != nil {
			handleDoctorError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
	}
}

func weeklyScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		windows, err := svc.WeeklySchedule(r.Context(), id)
		if err != nil {
			handleDoctorError(w, err)
			return
		}

		resp := make([]WeeklyWindowResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toWindowResponse(&windows[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addWeeklyWindowHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		var req WeeklyWindowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DayOfWeek == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "day_of_week, start and end are required")
			return
		}
		day := appointment.DayOfWeek(*req.DayOfWeek)
		if !day.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_day_of_week", "day_of_week must be 0 (Monday) to 6 (Sunday)")
			return
		}
		start, err := appointment.ParseTimeOfDay(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := appointment.ParseTimeOfDay(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}

		window, err := svc.AddWeeklyWindow(r.Context(), appointment.WeeklyWindow{
			DoctorID: id,
			Day:      day,
			Start:    start,
			End:      end,
		})
		if err != nil {
			handleDoctorError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWindowResponse(window))
	}
}

func handleDoctorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, appointment.ErrOverlappingWindow):
		writeError(w, http.StatusConflict, "overlapping_window", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not update doctor")
	}
}
