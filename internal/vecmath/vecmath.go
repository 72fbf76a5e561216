// Package vecmath implements the similarity primitives used by the matcher:
// L2 normalization, cosine similarity, and a single-pass batch variant.
package vecmath

import (
	"errors"
	"math"
)

// ErrDegenerateVector is returned for vectors with zero norm, which cannot
// be normalized or compared. Callers skip the offending item.
var ErrDegenerateVector = errors.New("vector has zero norm")

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = errors.New("vector dimensions do not match")

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a new vector with unit L2 norm.
// Returns ErrDegenerateVector if v has zero norm.
func Normalize(v []float32) ([]float32, error) {
	norm := Norm(v)
	if norm == 0 {
		return nil, ErrDegenerateVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// clamp limits floating point error so results stay within [-1, 1].
func clamp(similarity float64) float64 {
	if similarity > 1 {
		return 1
	}
	if similarity < -1 {
		return -1
	}
	return similarity
}

// CosineSimilarity computes the cosine similarity between a and b.
// Returns ErrDimensionMismatch if lengths differ and ErrDegenerateVector
// if either input has zero norm.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, ErrDegenerateVector
	}

	return clamp(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// Dot computes the dot product of a and b. For unit vectors this equals
// their cosine similarity, which lets the matcher skip the norm computation.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// BatchCosineSimilarity computes the cosine similarity between the probe and
// every row of matrix in a single pass. An empty matrix yields an empty
// slice. A dimension mismatch on any row fails the whole call.
func BatchCosineSimilarity(matrix [][]float32, probe []float32) ([]float64, error) {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		s, err := CosineSimilarity(row, probe)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return scores, nil
}

// BatchDot computes the dot product between the probe and every row of
// matrix. Both sides are expected to be L2-normalized already.
func BatchDot(matrix [][]float32, probe []float32) ([]float64, error) {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		s, err := Dot(row, probe)
		if err != nil {
			return nil, err
		}
		scores[i] = clamp(s)
	}
	return scores, nil
}

// MeanVector averages the given vectors, skipping zero-norm inputs, and
// returns the number of skipped vectors. Returns ErrDegenerateVector when no
// usable input remains and ErrDimensionMismatch when input lengths differ.
func MeanVector(vs [][]float32) ([]float32, int, error) {
	var sum []float64
	used := 0
	skipped := 0

	for _, v := range vs {
		if Norm(v) == 0 {
			skipped++
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			return nil, skipped, ErrDimensionMismatch
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		used++
	}

	if used == 0 {
		return nil, skipped, ErrDegenerateVector
	}

	mean := make([]float32, len(sum))
	for i, x := range sum {
		mean[i] = float32(x / float64(used))
	}
	return mean, skipped, nil
}
