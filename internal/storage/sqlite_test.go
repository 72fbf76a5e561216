package storage

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.125, 0}
	decoded, err := decodeVector(encodeVector(v), len(v))
	if err != nil {
		t.Fatalf("decodeVector failed: %v", err)
	}
	for i := range v {
		if decoded[i] != v[i] {
			t.Errorf("component %d: got %f, want %f", i, decoded[i], v[i])
		}
	}
}

func TestDecodeVector_WrongLength(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}, 2); err == nil {
		t.Error("expected error for truncated vector blob")
	}
}

func TestSaveEnrollment_ReplacesOnReenroll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := Enrollment{Intake: "I1", Course: "CS", StudentID: "42", Name: "Jane", Vector: []float32{1, 0}}
	if err := s.SaveEnrollment(ctx, first); err != nil {
		t.Fatalf("SaveEnrollment failed: %v", err)
	}

	second := first
	second.Vector = []float32{0, 1}
	if err := s.SaveEnrollment(ctx, second); err != nil {
		t.Fatalf("re-enrollment failed: %v", err)
	}

	list, err := s.ListEnrollments(ctx, "I1", "CS")
	if err != nil {
		t.Fatalf("ListEnrollments failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 enrollment after re-enroll, got %d", len(list))
	}
	if list[0].Vector[0] != 0 || list[0].Vector[1] != 1 {
		t.Errorf("re-enrollment did not replace vector: %v", list[0].Vector)
	}
}

func TestListEnrollments_EmptyPair(t *testing.T) {
	s := openTestStore(t)

	list, err := s.ListEnrollments(context.Background(), "I9", "Nothing")
	if err != nil {
		t.Fatalf("ListEnrollments for empty pair failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d rows", len(list))
	}
}

func TestDeleteEnrollment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveEnrollment(ctx, Enrollment{Intake: "I1", Course: "CS", StudentID: "42", Name: "Jane", Vector: []float32{1}}); err != nil {
		t.Fatalf("SaveEnrollment failed: %v", err)
	}

	existed, err := s.DeleteEnrollment(ctx, "I1", "CS", "42")
	if err != nil {
		t.Fatalf("DeleteEnrollment failed: %v", err)
	}
	if !existed {
		t.Error("expected existed=true for present enrollment")
	}

	existed, err = s.DeleteEnrollment(ctx, "I1", "CS", "42")
	if err != nil {
		t.Fatalf("second DeleteEnrollment failed: %v", err)
	}
	if existed {
		t.Error("expected existed=false for already-deleted enrollment")
	}
}

func TestListIntakesAndCourses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []Enrollment{
		{Intake: "2024", Course: "CS", StudentID: "1", Name: "A", Vector: []float32{1}},
		{Intake: "2024", Course: "SE", StudentID: "2", Name: "B", Vector: []float32{1}},
		{Intake: "2025", Course: "CS", StudentID: "3", Name: "C", Vector: []float32{1}},
	}
	for _, e := range seed {
		if err := s.SaveEnrollment(ctx, e); err != nil {
			t.Fatalf("SaveEnrollment failed: %v", err)
		}
	}

	intakes, err := s.ListIntakes(ctx)
	if err != nil {
		t.Fatalf("ListIntakes failed: %v", err)
	}
	if len(intakes) != 2 || intakes[0] != "2024" || intakes[1] != "2025" {
		t.Errorf("unexpected intakes: %v", intakes)
	}

	courses, err := s.ListCourses(ctx, "2024")
	if err != nil {
		t.Fatalf("ListCourses failed: %v", err)
	}
	if len(courses) != 2 || courses[0] != "CS" || courses[1] != "SE" {
		t.Errorf("unexpected courses: %v", courses)
	}
}

func TestWriteDay_LastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertStudent(ctx, "I1", "CS", "A", "Alice"); err != nil {
		t.Fatalf("UpsertStudent failed: %v", err)
	}

	if err := s.WriteDay(ctx, "I1", "CS", "OS", "2025-01-01", map[string]bool{"A": true}, "dr-x"); err != nil {
		t.Fatalf("first WriteDay failed: %v", err)
	}
	if err := s.WriteDay(ctx, "I1", "CS", "OS", "2025-01-01", map[string]bool{"A": false}, "dr-x"); err != nil {
		t.Fatalf("second WriteDay failed: %v", err)
	}

	cells, err := s.AttendanceRows(ctx, "I1", "CS")
	if err != nil {
		t.Fatalf("AttendanceRows failed: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("expected 1 cell, got %d", len(cells))
	}
	if cells[0].Present {
		t.Error("expected last write (absent) to win")
	}
	if cells[0].Name != "Alice" {
		t.Errorf("expected roster name joined, got %q", cells[0].Name)
	}
}

func TestSubjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteDay(ctx, "I1", "CS", "OS", "2025-01-01", map[string]bool{"A": true}, ""); err != nil {
		t.Fatalf("WriteDay failed: %v", err)
	}
	if err := s.WriteDay(ctx, "I1", "CS", "DB", "2025-01-01", map[string]bool{"A": true}, ""); err != nil {
		t.Fatalf("WriteDay failed: %v", err)
	}

	subjects, err := s.Subjects(ctx, "I1", "CS")
	if err != nil {
		t.Fatalf("Subjects failed: %v", err)
	}
	if len(subjects) != 2 || subjects[0] != "DB" || subjects[1] != "OS" {
		t.Errorf("unexpected subjects: %v", subjects)
	}
}
