package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hanifabd/rollcall/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	studentsHandler := handlers.NewStudentsHandler(s.store, s.enroller)
	embeddingsHandler := handlers.NewEmbeddingsHandler(s.store)
	attendanceHandler := handlers.NewAttendanceHandler(s.ledger, s.store)
	recognitionHandler := handlers.NewRecognitionHandler(s.store, s.detector, s.embedder, s.config.Tuning)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes. The timeout middleware stays off the websocket route,
	// which outlives any sensible request deadline.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(60 * time.Second))

		// Enrollment
		r.Post("/students", studentsHandler.Register)
		r.Post("/students/remove", studentsHandler.Remove)
		r.Post("/embeddings/load", embeddingsHandler.Load)

		// Attendance
		r.Post("/attendance", attendanceHandler.Save)
		r.Get("/attendance/student/{id}", attendanceHandler.StudentReport)
		r.Get("/attendance/intake/{intake}/course/{course}", attendanceHandler.CourseReport)

		// Scope discovery
		r.Get("/intakes", attendanceHandler.Intakes)
		r.Get("/courses", attendanceHandler.Courses)
	})

	// Streaming recognition
	s.router.Get("/ws/recognition", recognitionHandler.Serve)
}
