// Package store holds the enrolled identity vectors a recognition session
// matches against. A Store is scoped to an (intakes, courses) selection and
// hands out immutable snapshots so matching never races a reload.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hanifabd/rollcall/internal/storage"
	"github.com/hanifabd/rollcall/internal/vecmath"
)

// ErrDuplicateIdentity is returned by Add when the id is already enrolled in
// the active scope. Callers must Remove first to replace.
var ErrDuplicateIdentity = errors.New("identity already present in scope")

// ErrStoreUnavailable wraps enrollment enumeration failures.
var ErrStoreUnavailable = errors.New("enrollment store unavailable")

// Identity is one enrolled person: student id, display name, and the mean
// embedding vector produced at enrollment.
type Identity struct {
	ID          string
	DisplayName string
	Vector      []float32
}

// Scope selects which enrollments are loaded for matching.
type Scope struct {
	Intakes []string `json:"intakes"`
	Courses []string `json:"courses"`
}

// Validate rejects empty selections once at the boundary so downstream code
// never re-checks.
func (s Scope) Validate() error {
	if len(s.Intakes) == 0 {
		return errors.New("scope requires at least one intake")
	}
	if len(s.Courses) == 0 {
		return errors.New("scope requires at least one course")
	}
	for _, in := range s.Intakes {
		if in == "" {
			return errors.New("scope contains an empty intake")
		}
	}
	for _, c := range s.Courses {
		if c == "" {
			return errors.New("scope contains an empty course")
		}
	}
	return nil
}

// Pairs expands the scope into its (intake, course) combinations.
func (s Scope) Pairs() [][2]string {
	pairs := make([][2]string, 0, len(s.Intakes)*len(s.Courses))
	for _, in := range s.Intakes {
		for _, c := range s.Courses {
			pairs = append(pairs, [2]string{in, c})
		}
	}
	return pairs
}

// Snapshot is an immutable view of the loaded identities: parallel id and
// name slices plus the normalized vector matrix. Matching works on a
// snapshot without holding the store lock.
type Snapshot struct {
	IDs    []string
	Names  []string
	Matrix [][]float32
}

// Len returns the number of identities in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.IDs)
}

// EnrollmentSource enumerates persisted enrollment vectors per
// (intake, course) pair.
type EnrollmentSource interface {
	ListEnrollments(ctx context.Context, intake, course string) ([]storage.Enrollment, error)
}

// Store holds the active snapshot for one session. Load swaps the snapshot
// wholesale; Add and Remove derive a new snapshot from the current one, so
// readers always see fully-consistent state.
type Store struct {
	source EnrollmentSource

	mu      sync.RWMutex
	snap    *Snapshot
	skipped int
}

// New creates an empty store backed by the given enrollment source.
func New(source EnrollmentSource) *Store {
	return &Store{source: source, snap: &Snapshot{}}
}

// Load replaces the active snapshot with all identities matching the scope.
// Pairs without enrollments are skipped silently; an enumeration failure on
// any pair aborts the load with ErrStoreUnavailable and leaves the previous
// snapshot in place. Vectors are normalized here so the matcher can use a
// plain dot product. Returns the number of loaded identities.
func (s *Store) Load(ctx context.Context, scope Scope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	next := &Snapshot{}
	seen := make(map[string]bool)
	skipped := 0

	for _, pair := range scope.Pairs() {
		rows, err := s.source.ListEnrollments(ctx, pair[0], pair[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %s/%s: %v", ErrStoreUnavailable, pair[0], pair[1], err)
		}
		for _, row := range rows {
			if seen[row.StudentID] {
				continue
			}
			normalized, err := vecmath.Normalize(row.Vector)
			if err != nil {
				// Degenerate vectors are skipped, not fatal.
				skipped++
				continue
			}
			seen[row.StudentID] = true
			next.IDs = append(next.IDs, row.StudentID)
			next.Names = append(next.Names, row.Name)
			next.Matrix = append(next.Matrix, normalized)
		}
	}

	s.mu.Lock()
	s.snap = next
	s.skipped = skipped
	s.mu.Unlock()

	return next.Len(), nil
}

// Add enrolls a single identity into the active snapshot. Returns
// ErrDuplicateIdentity if the id is already loaded.
func (s *Store) Add(identity Identity) error {
	normalized, err := vecmath.Normalize(identity.Vector)
	if err != nil {
		return fmt.Errorf("identity %s: %w", identity.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.snap.IDs {
		if id == identity.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentity, identity.ID)
		}
	}

	next := &Snapshot{
		IDs:    append(append([]string{}, s.snap.IDs...), identity.ID),
		Names:  append(append([]string{}, s.snap.Names...), identity.DisplayName),
		Matrix: append(append([][]float32{}, s.snap.Matrix...), normalized),
	}
	s.snap = next
	return nil
}

// Remove drops an identity from the active snapshot. Returns whether the id
// was present; removing a missing id is not an error.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, existing := range s.snap.IDs {
		if existing == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	next := &Snapshot{
		IDs:    make([]string, 0, len(s.snap.IDs)-1),
		Names:  make([]string, 0, len(s.snap.Names)-1),
		Matrix: make([][]float32, 0, len(s.snap.Matrix)-1),
	}
	for i := range s.snap.IDs {
		if i == idx {
			continue
		}
		next.IDs = append(next.IDs, s.snap.IDs[i])
		next.Names = append(next.Names, s.snap.Names[i])
		next.Matrix = append(next.Matrix, s.snap.Matrix[i])
	}
	s.snap = next
	return true
}

// Snapshot returns the current immutable view. Callers must not mutate it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SkippedAtLoad reports how many degenerate vectors the last Load dropped.
func (s *Store) SkippedAtLoad() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped
}
