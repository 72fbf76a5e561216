// Package session implements the streaming recognition state machine that
// turns inbound camera frames into deduplicated recognition events.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/detect"
	"github.com/hanifabd/rollcall/internal/imaging"
	"github.com/hanifabd/rollcall/internal/match"
	"github.com/hanifabd/rollcall/internal/store"
)

// maxFacesFallback bounds per-frame work when tuning is misconfigured.
const maxFacesFallback = 3

// Detector locates faces in a frame.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]detect.Observation, error)
}

// Embedder turns a face crop into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, crop []byte) ([]float32, error)
}

// Session processes frames for a single client connection. It is not safe
// for concurrent use: the owning connection's reader loop guarantees at
// most one ProcessFrame in flight, which is what the dedup cache and frame
// ordering depend on.
type Session struct {
	detector Detector
	embedder Embedder
	store    *store.Store
	tuning   config.Tuning
	clock    func() time.Time

	active   bool
	lastSeen map[string]time.Time
}

// New creates an idle session over the given collaborators.
func New(detector Detector, embedder Embedder, st *store.Store, tuning config.Tuning) *Session {
	return &Session{
		detector: detector,
		embedder: embedder,
		store:    st,
		tuning:   tuning,
		clock:    time.Now,
	}
}

// Start loads the enrollment scope and activates the session. Calling Start
// while already active reloads the scope and resets the dedup cache.
func (s *Session) Start(ctx context.Context, scope store.Scope) (int, error) {
	count, err := s.store.Load(ctx, scope)
	if err != nil {
		return 0, err
	}
	s.lastSeen = make(map[string]time.Time)
	s.active = true
	return count, nil
}

// Stop clears the dedup cache and returns the session to idle. Frames
// received afterward produce a NotStarted ack until the next Start.
func (s *Session) Stop() {
	s.active = false
	s.lastSeen = nil
}

// Active reports whether the session is accepting frames.
func (s *Session) Active() bool {
	return s.active
}

// ProcessFrame runs the full per-frame pipeline and returns the events to
// send to the client. Per-face failures become diagnostic events and never
// abort the frame; the last event is always the FrameProcessed ack.
func (s *Session) ProcessFrame(ctx context.Context, img []byte, capturedAt time.Time) []Event {
	if !s.active {
		return []Event{NotStarted{}}
	}

	started := s.clock()
	var events []Event

	faces := s.detectFaces(ctx, img)
	processed := 0
	for _, obs := range faces {
		if obs.Box.W < s.tuning.MinFaceWidthPx {
			continue
		}
		processed++
		if ev := s.processFace(ctx, img, obs, started, capturedAt); ev != nil {
			events = append(events, ev)
		}
	}

	events = append(events, FrameProcessed{
		Faces:        processed,
		ProcessingMs: s.clock().Sub(started).Milliseconds(),
	})
	return events
}

// detectFaces runs the detector and returns the largest faces first, capped
// at the per-frame maximum. A failed or empty detection returns nil, the
// expected "nothing to do" case.
func (s *Session) detectFaces(ctx context.Context, img []byte) []detect.Observation {
	dctx, cancel := context.WithTimeout(ctx, s.tuning.FrameTimeout())
	defer cancel()

	faces, err := s.detector.Detect(dctx, img)
	if err != nil || len(faces) == 0 {
		return nil
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Box.Area() > faces[j].Box.Area()
	})

	limit := s.tuning.MaxFacesPerFrame
	if limit <= 0 {
		limit = maxFacesFallback
	}
	if len(faces) > limit {
		faces = faces[:limit]
	}
	return faces
}

// processFace crops, embeds and matches one face. It returns exactly one
// event, or nil when a recognized identity is suppressed by the dedup
// window.
func (s *Session) processFace(ctx context.Context, img []byte, obs detect.Observation, started, capturedAt time.Time) Event {
	padding := imaging.Padding{
		NearFraction: s.tuning.PadNearFraction,
		FarFraction:  s.tuning.PadFarFraction,
		NearWidthPx:  s.tuning.PadNearWidthPx,
		FarWidthPx:   s.tuning.FarFaceWidthPx,
	}
	crop, err := imaging.CropFace(img, obs.Box, padding.Fraction(obs.Box.W))
	if err != nil {
		return UnrecognizedFace{Box: obs.Box, Error: err.Error()}
	}

	ectx, cancel := context.WithTimeout(ctx, s.tuning.FrameTimeout())
	defer cancel()
	probe, err := s.embedder.Embed(ectx, crop)
	if err != nil {
		return UnrecognizedFace{Box: obs.Box, Error: err.Error()}
	}

	thresholds := match.Thresholds{
		Default:        s.tuning.DefaultThreshold,
		Far:            s.tuning.FarThreshold,
		FarFaceWidthPx: s.tuning.FarFaceWidthPx,
	}
	result, err := match.BestMatch(probe, s.store.Snapshot(), match.Context{FaceWidthPx: obs.Box.W}, thresholds)
	if err != nil {
		return UnrecognizedFace{Box: obs.Box, Error: err.Error()}
	}

	if !result.Accepted {
		return BelowThreshold{
			StudentID:  result.CandidateID,
			Name:       result.CandidateName,
			Similarity: result.Similarity,
			Threshold:  result.Threshold,
			Box:        obs.Box,
		}
	}

	now := s.clock()
	if last, ok := s.lastSeen[result.IdentityID]; ok && now.Sub(last) < s.tuning.DedupWindow() {
		return nil
	}
	s.lastSeen[result.IdentityID] = now

	ev := Recognition{
		StudentID:    result.IdentityID,
		Name:         result.CandidateName,
		Similarity:   result.Similarity,
		Box:          obs.Box,
		ProcessingMs: now.Sub(started).Milliseconds(),
	}
	if !capturedAt.IsZero() {
		ev.LatencyMs = now.Sub(capturedAt).Milliseconds()
	}
	return ev
}
