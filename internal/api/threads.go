package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-intake-scheduling/internal/conversation"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

func sendMessageHandler(engine *conversation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := engine.Send(r.Context(), chi.URLParam(r, "id"), req.PatientKey, req.Message)
		if err != nil {
			handleThreadError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func resumeThreadHandler(engine *conversation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := engine.Resume(r.Context(), chi.URLParam(r, "id"), req.Value)
		if err != nil {
			handleThreadError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func getThreadHandler(engine *conversation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := engine.State(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleThreadError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, st)
	}
}

func resetThreadHandler(engine *conversation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleThreadError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleThreadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrMissingPatientKey):
		writeError(w, http.StatusBadRequest, "missing_patient_key", err.Error())
	case errors.Is(err, conversation.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "empty_message", err.Error())
	case errors.Is(err, conversation.ErrUnknownThread):
		writeError(w, http.StatusNotFound, "thread_not_found", err.Error())
	case errors.Is(err, conversation.ErrInvalidResumeState):
		writeError(w, http.StatusConflict, "not_waiting_for_input", err.Error())
	case errors.Is(err, conversation.ErrAwaitingInput):
		writeError(w, http.StatusConflict, "awaiting_input", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "thread_busy", "another message for this thread is being processed")
	case errors.Is(err, conversation.ErrInvalidState):
		writeError(w, http.StatusUnprocessableEntity, "invalid_thread_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process conversation")
	}
}
