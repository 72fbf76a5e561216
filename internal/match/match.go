// Package match finds the best enrolled identity for a probe embedding.
package match

import (
	"errors"
	"fmt"

	"github.com/hanifabd/rollcall/internal/store"
	"github.com/hanifabd/rollcall/internal/vecmath"
)

// ErrEmptyStore is returned when BestMatch runs against a snapshot with no
// identities. Callers must load a scope first.
var ErrEmptyStore = errors.New("no identities loaded for matching")

// Context carries per-face information that influences the acceptance
// threshold.
type Context struct {
	FaceWidthPx float64
}

// Thresholds holds the acceptance thresholds. Small (far) faces produce
// lower-fidelity embeddings, so they get a slightly lower bar.
type Thresholds struct {
	Default        float64
	Far            float64
	FarFaceWidthPx float64
}

// For returns the acceptance threshold for the given face context.
func (t Thresholds) For(fctx Context) float64 {
	if fctx.FaceWidthPx > 0 && fctx.FaceWidthPx < t.FarFaceWidthPx {
		return t.Far
	}
	return t.Default
}

// Result is the outcome of one probe. CandidateID and CandidateName always
// name the best-scoring identity so callers can report near misses;
// IdentityID is set only when the similarity cleared the threshold.
type Result struct {
	IdentityID    string
	CandidateID   string
	CandidateName string
	Similarity    float64
	Threshold     float64
	Accepted      bool
}

// BestMatch scores the probe against every identity in the snapshot and
// picks the argmax. Ties break toward the lowest snapshot index so results
// are reproducible. The probe is normalized here; snapshot vectors are
// normalized at load time, so scoring is a plain dot product.
func BestMatch(probe []float32, snap *store.Snapshot, fctx Context, th Thresholds) (Result, error) {
	if snap.Len() == 0 {
		return Result{}, ErrEmptyStore
	}

	normalized, err := vecmath.Normalize(probe)
	if err != nil {
		return Result{}, fmt.Errorf("probe vector: %w", err)
	}

	scores, err := vecmath.BatchDot(snap.Matrix, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("scoring probe: %w", err)
	}

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}

	threshold := th.For(fctx)
	result := Result{
		CandidateID:   snap.IDs[best],
		CandidateName: snap.Names[best],
		Similarity:    scores[best],
		Threshold:     threshold,
		Accepted:      scores[best] > threshold,
	}
	if result.Accepted {
		result.IdentityID = snap.IDs[best]
	}
	return result, nil
}
