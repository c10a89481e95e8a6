package api

import "github.com/medflow/roomqueue/internal/appointment"

type CreateAppointmentRequest struct {
	SubjectID   int64  `json:"subjectId"`
	DisplayName string `json:"displayName"`
	Priority    string `json:"priority,omitempty"`
}

type AcceptedResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type AppointmentListResponse struct {
	Appointments []appointment.EventPayload `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
