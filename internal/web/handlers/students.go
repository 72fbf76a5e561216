package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/hanifabd/rollcall/internal/enroll"
	"github.com/hanifabd/rollcall/internal/storage"
)

// StudentsHandler registers and removes enrolled students.
type StudentsHandler struct {
	store    *storage.Store
	enroller *enroll.Enroller
}

// NewStudentsHandler creates a students handler.
func NewStudentsHandler(store *storage.Store, enroller *enroll.Enroller) *StudentsHandler {
	return &StudentsHandler{store: store, enroller: enroller}
}

type registerRequest struct {
	StudentID string   `json:"studentid"`
	Name      string   `json:"name"`
	Intake    string   `json:"intake"`
	Course    string   `json:"course"`
	Photos    []string `json:"photos"` // base64 JPEG captures
}

// Register enrolls a student from a batch of captured photos: each photo is
// detected, cropped and embedded, and the normalized mean vector is stored
// under (intake, course, studentid).
func (h *StudentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" || req.Name == "" || req.Intake == "" || req.Course == "" {
		respondError(w, http.StatusBadRequest, "studentid, name, intake and course are required")
		return
	}
	if len(req.Photos) == 0 {
		respondError(w, http.StatusBadRequest, "at least one photo is required")
		return
	}

	photos := make([][]byte, 0, len(req.Photos))
	for _, p := range req.Photos {
		img, err := decodeImage(p)
		if err != nil {
			respondError(w, http.StatusBadRequest, "photos must be base64 encoded images")
			return
		}
		photos = append(photos, img)
	}

	mean, results, err := h.enroller.MeanEmbedding(r.Context(), photos)
	if err != nil {
		if errors.Is(err, enroll.ErrNoUsableFaces) {
			respondError(w, http.StatusUnprocessableEntity, "no usable face found in the submitted photos")
			return
		}
		log.Printf("enrollment failed for %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusBadGateway, "face detection service unavailable")
		return
	}

	usable := 0
	for _, res := range results {
		if res.Err == nil {
			usable++
		}
	}

	name := enroll.NormalizeName(req.Name)
	enrollment := storage.Enrollment{
		Intake:    req.Intake,
		Course:    req.Course,
		StudentID: req.StudentID,
		Name:      name,
		Vector:    mean,
	}
	if err := h.store.SaveEnrollment(r.Context(), enrollment); err != nil {
		log.Printf("failed to save enrollment for %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to save enrollment")
		return
	}
	if err := h.store.UpsertStudent(r.Context(), req.Intake, req.Course, req.StudentID, name); err != nil {
		log.Printf("failed to roster %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to save enrollment")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"studentid":    req.StudentID,
		"name":         name,
		"photos_used":  usable,
		"photos_total": len(req.Photos),
	})
}

type removeRequest struct {
	StudentID string `json:"studentid"`
	Intake    string `json:"intake"`
	Course    string `json:"course"`
}

// Remove deletes a student's enrollment and roster entry. Removing an
// unknown student is reported, not an error.
func (h *StudentsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" || req.Intake == "" || req.Course == "" {
		respondError(w, http.StatusBadRequest, "studentid, intake and course are required")
		return
	}

	existed, err := h.store.DeleteEnrollment(r.Context(), req.Intake, req.Course, req.StudentID)
	if err != nil {
		log.Printf("failed to remove enrollment for %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to remove student")
		return
	}
	if _, err := h.store.DeleteStudent(r.Context(), req.Intake, req.Course, req.StudentID); err != nil {
		log.Printf("failed to remove roster entry for %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "failed to remove student")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"studentid": req.StudentID,
		"removed":   existed,
	})
}
