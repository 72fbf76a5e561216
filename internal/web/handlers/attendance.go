package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanifabd/rollcall/internal/attendance"
	"github.com/hanifabd/rollcall/internal/storage"
)

// AttendanceHandler writes and reads the attendance ledger.
type AttendanceHandler struct {
	ledger *attendance.Ledger
	store  *storage.Store
}

// NewAttendanceHandler creates an attendance handler.
func NewAttendanceHandler(ledger *attendance.Ledger, store *storage.Store) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, store: store}
}

type saveRequest struct {
	Intake         string               `json:"intake"`
	Course         string               `json:"course"`
	Subject        string               `json:"subject"`
	DateKey        string               `json:"date"`
	AttendedBy     string               `json:"attendedBy"`
	AttendanceList []attendance.Student `json:"attendanceList"`
}

// Save marks one day's attendance column for (intake, course, subject).
func (h *AttendanceHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	key := attendance.Key{Intake: req.Intake, Course: req.Course, Subject: req.Subject}
	if err := key.Validate(); err != nil || req.DateKey == "" {
		respondError(w, http.StatusBadRequest, "intake, course, subject and date are required")
		return
	}

	if err := h.ledger.MarkDay(r.Context(), key, req.DateKey, req.AttendanceList, req.AttendedBy); err != nil {
		log.Printf("failed to save attendance for %s: %v", key, err)
		respondError(w, http.StatusInternalServerError, "failed to save attendance")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"date":    req.DateKey,
		"present": len(req.AttendanceList),
	})
}

// StudentReport returns one student's per-subject attendance percentages.
func (h *AttendanceHandler) StudentReport(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")
	intake := r.URL.Query().Get("intake")
	course := r.URL.Query().Get("course")
	if studentID == "" || intake == "" || course == "" {
		respondError(w, http.StatusBadRequest, "intake and course query parameters are required")
		return
	}

	summary, err := h.ledger.StudentPercentages(r.Context(), intake, course, studentID)
	if err != nil {
		log.Printf("failed to read attendance for %s: %v", sanitizeForLog(studentID), err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// CourseReport returns the dashboard aggregate for (intake, course).
func (h *AttendanceHandler) CourseReport(w http.ResponseWriter, r *http.Request) {
	intake := chi.URLParam(r, "intake")
	course := chi.URLParam(r, "course")

	report, err := h.ledger.RollUp(r.Context(), intake, course)
	if err != nil {
		log.Printf("failed to roll up attendance for %s/%s: %v", sanitizeForLog(intake), sanitizeForLog(course), err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Intakes lists the intakes with enrollments.
func (h *AttendanceHandler) Intakes(w http.ResponseWriter, r *http.Request) {
	intakes, err := h.store.ListIntakes(r.Context())
	if err != nil {
		log.Printf("failed to list intakes: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list intakes")
		return
	}
	if intakes == nil {
		intakes = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"intakes": intakes})
}

// Courses lists the courses for an intake.
func (h *AttendanceHandler) Courses(w http.ResponseWriter, r *http.Request) {
	intake := r.URL.Query().Get("intake")
	if intake == "" {
		respondError(w, http.StatusBadRequest, "intake query parameter is required")
		return
	}

	courses, err := h.store.ListCourses(r.Context(), intake)
	if err != nil {
		log.Printf("failed to list courses for %s: %v", sanitizeForLog(intake), err)
		respondError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}
	if courses == nil {
		courses = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"courses": courses})
}
