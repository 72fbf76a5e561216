// Package storage persists enrollment vectors and the attendance ledger in
// a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for enrollments, students, and
// attendance.
type Store struct {
	db *sql.DB
}

// Enrollment is one student's enrolled embedding vector, keyed by
// (intake, course, student id).
type Enrollment struct {
	Intake    string
	Course    string
	StudentID string
	Name      string
	Vector    []float32
	CreatedAt time.Time
}

// StudentRow is one student in the attendance roster for (intake, course).
type StudentRow struct {
	StudentID string
	Name      string
}

// AttendanceCell is one (subject, date, student) presence mark.
type AttendanceCell struct {
	Subject   string
	DateKey   string
	StudentID string
	Name      string
	Present   bool
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "rollcall.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in
// ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 vector of length dim.
func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d for dim %d", len(blob), 4*dim, dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}

// --- Enrollments ---

// SaveEnrollment stores an enrollment vector, replacing any previous vector
// for the same (intake, course, student id).
func (s *Store) SaveEnrollment(ctx context.Context, e Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO enrollments (intake, course, student_id, name, dim, vector)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Intake, e.Course, e.StudentID, e.Name, len(e.Vector), encodeVector(e.Vector),
	)
	if err != nil {
		return fmt.Errorf("saving enrollment %s/%s/%s: %w", e.Intake, e.Course, e.StudentID, err)
	}
	return nil
}

// DeleteEnrollment removes a student's enrollment vector. Returns whether a
// row existed.
func (s *Store) DeleteEnrollment(ctx context.Context, intake, course, studentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM enrollments WHERE intake = ? AND course = ? AND student_id = ?",
		intake, course, studentID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting enrollment %s/%s/%s: %w", intake, course, studentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListEnrollments returns all enrollment vectors for an (intake, course)
// pair, ordered by student id. A pair with no enrollments yields an empty
// slice, not an error.
func (s *Store) ListEnrollments(ctx context.Context, intake, course string) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intake, course, student_id, name, dim, vector, created_at
		FROM enrollments WHERE intake = ? AND course = ?
		ORDER BY student_id ASC`,
		intake, course,
	)
	if err != nil {
		return nil, fmt.Errorf("listing enrollments %s/%s: %w", intake, course, err)
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		var e Enrollment
		var dim int
		var blob []byte
		var createdAt string
		if err := rows.Scan(&e.Intake, &e.Course, &e.StudentID, &e.Name, &dim, &blob, &createdAt); err != nil {
			return nil, err
		}
		if e.Vector, err = decodeVector(blob, dim); err != nil {
			return nil, fmt.Errorf("enrollment %s/%s/%s: %w", e.Intake, e.Course, e.StudentID, err)
		}
		if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListIntakes returns all intakes that have at least one enrolled student.
func (s *Store) ListIntakes(ctx context.Context) ([]string, error) {
	return s.listColumn(ctx, "SELECT DISTINCT intake FROM enrollments ORDER BY intake ASC")
}

// ListCourses returns all courses with enrollments for an intake.
func (s *Store) ListCourses(ctx context.Context, intake string) ([]string, error) {
	return s.listColumn(ctx, "SELECT DISTINCT course FROM enrollments WHERE intake = ? ORDER BY course ASC", intake)
}

func (s *Store) listColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Students (attendance roster) ---

// UpsertStudent adds a student to the attendance roster, updating the name
// if the student already exists.
func (s *Store) UpsertStudent(ctx context.Context, intake, course, studentID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (intake, course, student_id, name) VALUES (?, ?, ?, ?)
		ON CONFLICT (intake, course, student_id) DO UPDATE SET name = excluded.name`,
		intake, course, studentID, name,
	)
	if err != nil {
		return fmt.Errorf("upserting student %s/%s/%s: %w", intake, course, studentID, err)
	}
	return nil
}

// DeleteStudent removes a student from the roster. Attendance history is
// kept; removal only stops the student from appearing in future MarkDay
// columns.
func (s *Store) DeleteStudent(ctx context.Context, intake, course, studentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM students WHERE intake = ? AND course = ? AND student_id = ?",
		intake, course, studentID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting student %s/%s/%s: %w", intake, course, studentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListStudents returns the attendance roster for (intake, course) ordered
// by student id.
func (s *Store) ListStudents(ctx context.Context, intake, course string) ([]StudentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT student_id, name FROM students WHERE intake = ? AND course = ? ORDER BY student_id ASC",
		intake, course,
	)
	if err != nil {
		return nil, fmt.Errorf("listing students %s/%s: %w", intake, course, err)
	}
	defer rows.Close()

	var out []StudentRow
	for rows.Next() {
		var r StudentRow
		if err := rows.Scan(&r.StudentID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Attendance ---

// WriteDay replaces the (subject, dateKey) attendance column for
// (intake, course) in a single transaction. presence maps student id to
// present/absent; every id in the map gets a row, last write wins.
func (s *Store) WriteDay(ctx context.Context, intake, course, subject, dateKey string, presence map[string]bool, attendedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning attendance transaction: %w", err)
	}

	for studentID, present := range presence {
		p := 0
		if present {
			p = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO attendance (intake, course, subject, date_key, student_id, present)
			VALUES (?, ?, ?, ?, ?, ?)`,
			intake, course, subject, dateKey, studentID, p,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing attendance %s/%s/%s %s for %s: %w", intake, course, subject, dateKey, studentID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO attendance_log (intake, course, subject, date_key, attended_by)
		VALUES (?, ?, ?, ?, ?)`,
		intake, course, subject, dateKey, attendedBy,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("logging attendance %s/%s/%s %s: %w", intake, course, subject, dateKey, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing attendance %s/%s/%s %s: %w", intake, course, subject, dateKey, err)
	}
	return nil
}

// AttendanceRows returns every presence cell recorded for (intake, course),
// joined with the roster name where available.
func (s *Store) AttendanceRows(ctx context.Context, intake, course string) ([]AttendanceCell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.subject, a.date_key, a.student_id, COALESCE(st.name, ''), a.present
		FROM attendance a
		LEFT JOIN students st
		  ON st.intake = a.intake AND st.course = a.course AND st.student_id = a.student_id
		WHERE a.intake = ? AND a.course = ?
		ORDER BY a.subject ASC, a.date_key ASC, a.student_id ASC`,
		intake, course,
	)
	if err != nil {
		return nil, fmt.Errorf("reading attendance %s/%s: %w", intake, course, err)
	}
	defer rows.Close()

	var out []AttendanceCell
	for rows.Next() {
		var c AttendanceCell
		var present int
		if err := rows.Scan(&c.Subject, &c.DateKey, &c.StudentID, &c.Name, &present); err != nil {
			return nil, err
		}
		c.Present = present != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// Subjects returns the distinct subjects with recorded attendance for
// (intake, course).
func (s *Store) Subjects(ctx context.Context, intake, course string) ([]string, error) {
	return s.listColumn(ctx,
		"SELECT DISTINCT subject FROM attendance WHERE intake = ? AND course = ? ORDER BY subject ASC",
		intake, course,
	)
}
