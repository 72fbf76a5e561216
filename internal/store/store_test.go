package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/hanifabd/rollcall/internal/storage"
)

// fakeSource is an in-memory EnrollmentSource for tests.
type fakeSource struct {
	rows map[string][]storage.Enrollment // key "intake/course"
	errs map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rows: make(map[string][]storage.Enrollment),
		errs: make(map[string]error),
	}
}

func (f *fakeSource) add(intake, course, id, name string, vector []float32) {
	key := intake + "/" + course
	f.rows[key] = append(f.rows[key], storage.Enrollment{
		Intake: intake, Course: course, StudentID: id, Name: name, Vector: vector,
	})
}

func (f *fakeSource) ListEnrollments(_ context.Context, intake, course string) ([]storage.Enrollment, error) {
	key := intake + "/" + course
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.rows[key], nil
}

func TestLoad_NormalizesVectors(t *testing.T) {
	src := newFakeSource()
	src.add("2024", "CS", "42", "Jane", []float32{3, 4})

	s := New(src)
	count, err := s.Load(context.Background(), Scope{Intakes: []string{"2024"}, Courses: []string{"CS"}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	snap := s.Snapshot()
	var norm float64
	for _, x := range snap.Matrix[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-6 {
		t.Errorf("loaded vector not normalized, norm=%f", math.Sqrt(norm))
	}
}

func TestLoad_EmptyScopeMatchIsNotError(t *testing.T) {
	s := New(newFakeSource())

	count, err := s.Load(context.Background(), Scope{Intakes: []string{"2030"}, Courses: []string{"Nothing"}})
	if err != nil {
		t.Fatalf("Load of empty scope failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}
}

func TestLoad_EnumerationFailureKeepsOldSnapshot(t *testing.T) {
	src := newFakeSource()
	src.add("2024", "CS", "42", "Jane", []float32{1, 0})

	s := New(src)
	if _, err := s.Load(context.Background(), Scope{Intakes: []string{"2024"}, Courses: []string{"CS"}}); err != nil {
		t.Fatalf("initial Load failed: %v", err)
	}

	src.errs["2025/CS"] = fmt.Errorf("disk gone")
	_, err := s.Load(context.Background(), Scope{Intakes: []string{"2025"}, Courses: []string{"CS"}})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	if s.Snapshot().Len() != 1 {
		t.Error("failed Load must leave the previous snapshot in place")
	}
}

func TestLoad_SkipsDegenerateVectors(t *testing.T) {
	src := newFakeSource()
	src.add("2024", "CS", "1", "A", []float32{1, 0})
	src.add("2024", "CS", "2", "B", []float32{0, 0})

	s := New(src)
	count, err := s.Load(context.Background(), Scope{Intakes: []string{"2024"}, Courses: []string{"CS"}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 usable identity, got %d", count)
	}
	if s.SkippedAtLoad() != 1 {
		t.Errorf("expected 1 skipped vector, got %d", s.SkippedAtLoad())
	}
}

func TestLoad_ReplacesWholesale(t *testing.T) {
	src := newFakeSource()
	src.add("2024", "CS", "1", "A", []float32{1, 0})
	src.add("2025", "CS", "2", "B", []float32{0, 1})

	s := New(src)
	ctx := context.Background()
	if _, err := s.Load(ctx, Scope{Intakes: []string{"2024"}, Courses: []string{"CS"}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := s.Load(ctx, Scope{Intakes: []string{"2025"}, Courses: []string{"CS"}}); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	snap := s.Snapshot()
	if snap.Len() != 1 || snap.IDs[0] != "2" {
		t.Errorf("expected only the new scope's identity, got %v", snap.IDs)
	}
}

func TestScope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"valid", Scope{Intakes: []string{"2024"}, Courses: []string{"CS"}}, false},
		{"no intakes", Scope{Courses: []string{"CS"}}, true},
		{"no courses", Scope{Intakes: []string{"2024"}}, true},
		{"empty intake value", Scope{Intakes: []string{""}, Courses: []string{"CS"}}, true},
		{"empty course value", Scope{Intakes: []string{"2024"}, Courses: []string{""}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scope.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestAdd_Duplicate(t *testing.T) {
	s := New(newFakeSource())

	if err := s.Add(Identity{ID: "42", DisplayName: "Jane", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err := s.Add(Identity{ID: "42", DisplayName: "Jane", Vector: []float32{0, 1}})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := New(newFakeSource())
	if err := s.Add(Identity{ID: "42", DisplayName: "Jane", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if !s.Remove("42") {
		t.Error("expected Remove to report the id existed")
	}
	if s.Remove("42") {
		t.Error("expected Remove of missing id to report false")
	}
	if s.Snapshot().Len() != 0 {
		t.Error("snapshot should be empty after Remove")
	}
}

func TestSnapshot_UnaffectedByLaterMutation(t *testing.T) {
	s := New(newFakeSource())
	if err := s.Add(Identity{ID: "1", DisplayName: "A", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	snap := s.Snapshot()
	if err := s.Add(Identity{ID: "2", DisplayName: "B", Vector: []float32{0, 1}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if snap.Len() != 1 {
		t.Error("existing snapshot must not change when the store is mutated")
	}
	if s.Snapshot().Len() != 2 {
		t.Error("new snapshot should include the added identity")
	}
}
