package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/intake"
)

// IntakePublisher is the slice of the queue the HTTP layer needs.
type IntakePublisher interface {
	Enqueue(ctx context.Context, body []byte) error
}

// createAppointmentHandler validates the request shape and enqueues a
// creation message. Creation itself is asynchronous: the intake consumer
// persists the appointment, so the response is an acceptance, not a record.
func createAppointmentHandler(pub IntakePublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.SubjectID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_subject_id", "subjectId must be a positive number")
			return
		}
		if strings.TrimSpace(req.DisplayName) == "" {
			writeError(w, http.StatusBadRequest, "invalid_display_name", "displayName must be a non-empty string")
			return
		}
		if req.Priority != "" && !appointment.Priority(req.Priority).Valid() {
			writeError(w, http.StatusBadRequest, "invalid_priority", "priority must be one of high, medium, low")
			return
		}

		msg, err := json.Marshal(intake.CreationMessage{
			SubjectID:   req.SubjectID,
			DisplayName: req.DisplayName,
			Priority:    appointment.Priority(req.Priority),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		if err := pub.Enqueue(r.Context(), msg); err != nil {
			writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "could not enqueue appointment request")
			return
		}

		writeJSON(w, http.StatusAccepted, AcceptedResponse{
			Status:  "accepted",
			Message: "appointment queued for room assignment",
		})
	}
}

func listAppointmentsHandler(repo appointment.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := repo.FindAll(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: toPayloads(all)})
	}
}

func listBySubjectHandler(repo appointment.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID, err := strconv.ParseInt(chi.URLParam(r, "subjectId"), 10, 64)
		if err != nil || subjectID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_subject_id", "subjectId must be a positive number")
			return
		}

		appts, err := repo.FindBySubject(r.Context(), subjectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if len(appts) == 0 {
			writeError(w, http.StatusNotFound, "subject_not_found", "no appointments for this subject")
			return
		}

		writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: toPayloads(appts)})
	}
}

func toPayloads(appts []appointment.Appointment) []appointment.EventPayload {
	payloads := make([]appointment.EventPayload, 0, len(appts))
	for i := range appts {
		payloads = append(payloads, appointment.ToEventPayload(&appts[i]))
	}
	return payloads
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
