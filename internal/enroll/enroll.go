// Package enroll turns a batch of face photos into one enrolled identity:
// detect the main face per photo, crop, embed, and average the vectors.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/imaging"
	"github.com/hanifabd/rollcall/internal/session"
	"github.com/hanifabd/rollcall/internal/vecmath"
)

// ErrNoUsableFaces is returned when no photo in the batch produced an
// embedding.
var ErrNoUsableFaces = errors.New("no usable face found in enrollment photos")

// PhotoResult records the outcome for one enrollment photo.
type PhotoResult struct {
	Index int
	Err   error
}

// Enroller runs the per-photo pipeline against the detector/embedder
// sidecar.
type Enroller struct {
	detector session.Detector
	embedder session.Embedder
	tuning   config.Tuning
}

// New creates an enroller over the given collaborators.
func New(detector session.Detector, embedder session.Embedder, tuning config.Tuning) *Enroller {
	return &Enroller{detector: detector, embedder: embedder, tuning: tuning}
}

// MeanEmbedding processes each photo independently and returns the
// normalized mean of the successful embeddings. Per-photo failures are
// reported in the results, not as errors; the call fails only when no photo
// succeeds.
func (e *Enroller) MeanEmbedding(ctx context.Context, photos [][]byte) ([]float32, []PhotoResult, error) {
	var vectors [][]float32
	results := make([]PhotoResult, 0, len(photos))

	for i, photo := range photos {
		vec, err := e.embedPhoto(ctx, photo)
		results = append(results, PhotoResult{Index: i, Err: err})
		if err == nil {
			vectors = append(vectors, vec)
		}
	}

	if len(vectors) == 0 {
		return nil, results, ErrNoUsableFaces
	}

	mean, _, err := vecmath.MeanVector(vectors)
	if err != nil {
		return nil, results, fmt.Errorf("averaging %d embeddings: %w", len(vectors), err)
	}
	normalized, err := vecmath.Normalize(mean)
	if err != nil {
		return nil, results, fmt.Errorf("normalizing mean embedding: %w", err)
	}
	return normalized, results, nil
}

// embedPhoto detects the largest face in the photo, crops it with the
// size-proportional padding, and embeds the crop.
func (e *Enroller) embedPhoto(ctx context.Context, photo []byte) ([]float32, error) {
	dctx, cancel := context.WithTimeout(ctx, e.tuning.FrameTimeout())
	defer cancel()
	faces, err := e.detector.Detect(dctx, photo)
	if err != nil {
		return nil, fmt.Errorf("detecting face: %w", err)
	}
	if len(faces) == 0 {
		return nil, errors.New("no face detected")
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Box.Area() > faces[j].Box.Area()
	})
	face := faces[0]
	if face.Box.W < e.tuning.MinFaceWidthPx {
		return nil, fmt.Errorf("face too small to enroll (%.0fpx wide)", face.Box.W)
	}

	padding := imaging.Padding{
		NearFraction: e.tuning.PadNearFraction,
		FarFraction:  e.tuning.PadFarFraction,
		NearWidthPx:  e.tuning.PadNearWidthPx,
		FarWidthPx:   e.tuning.FarFaceWidthPx,
	}
	crop, err := imaging.CropFace(photo, face.Box, padding.Fraction(face.Box.W))
	if err != nil {
		return nil, fmt.Errorf("cropping face: %w", err)
	}

	ectx, cancel := context.WithTimeout(ctx, e.tuning.FrameTimeout())
	defer cancel()
	vec, err := e.embedder.Embed(ectx, crop)
	if err != nil {
		return nil, fmt.Errorf("embedding face: %w", err)
	}
	return vec, nil
}

// NormalizeName canonicalizes a display name for storage: diacritics are
// stripped and whitespace collapsed, so "José  Ríos" and "Jose Rios" enroll
// identically.
func NormalizeName(name string) string {
	stripped, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), name)
	if err != nil {
		stripped = name
	}
	return strings.Join(strings.Fields(stripped), " ")
}
