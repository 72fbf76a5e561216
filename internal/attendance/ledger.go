// Package attendance turns recognition snapshots into an idempotent
// per-course presence ledger and aggregates it for reporting.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hanifabd/rollcall/internal/storage"
)

// Key addresses one attendance table: every (intake, course, subject)
// triple has its own set of date columns.
type Key struct {
	Intake  string
	Course  string
	Subject string
}

// Validate rejects partially filled keys at the boundary.
func (k Key) Validate() error {
	if k.Intake == "" || k.Course == "" || k.Subject == "" {
		return errors.New("attendance key requires intake, course and subject")
	}
	return nil
}

func (k Key) String() string {
	return k.Intake + "/" + k.Course + "/" + k.Subject
}

// Student is one member of a day's present list.
type Student struct {
	ID   string `json:"studentid"`
	Name string `json:"name"`
}

// SubjectPercentage is one student's attendance rate for one subject.
type SubjectPercentage struct {
	Subject    string  `json:"subject"`
	Percentage float64 `json:"percentage"`
}

// StudentSummary is one student's per-subject attendance rates.
type StudentSummary struct {
	StudentID string              `json:"studentid"`
	Name      string              `json:"name"`
	Subjects  []SubjectPercentage `json:"subjects"`
}

// GraphPoint is the number of present students for one (date, subject)
// column, used by the dashboard time series.
type GraphPoint struct {
	DateKey      string `json:"date"`
	Subject      string `json:"subject"`
	PresentCount int    `json:"present"`
}

// Report is the course-wide dashboard aggregate.
type Report struct {
	StudentsData []StudentSummary `json:"studentsData"`
	GraphData    []GraphPoint     `json:"graphData"`
}

// Ledger persists attendance through the sqlite store. Writes to the same
// key are serialized by a per-key mutex since MarkDay is a read-modify-write
// over the roster; different keys proceed independently.
type Ledger struct {
	store *storage.Store

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// New creates a ledger over the given store.
func New(store *storage.Store) *Ledger {
	return &Ledger{store: store, locks: make(map[Key]*sync.Mutex)}
}

func (l *Ledger) lockFor(key Key) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// MarkDay writes the dateKey column for key: every rostered student is
// marked present or absent by membership in present, and present students
// not yet rostered are added first. The call is idempotent per (key,
// dateKey); a repeat with a different present list overwrites the column.
func (l *Ledger) MarkDay(ctx context.Context, key Key, dateKey string, present []Student, attendedBy string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if dateKey == "" {
		return errors.New("attendance date key must not be empty")
	}

	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	presentIDs := make(map[string]bool, len(present))
	for _, st := range present {
		if st.ID == "" {
			return fmt.Errorf("present list for %s contains a student without an id", key)
		}
		presentIDs[st.ID] = true
		if err := l.store.UpsertStudent(ctx, key.Intake, key.Course, st.ID, st.Name); err != nil {
			return fmt.Errorf("rostering %s for %s: %w", st.ID, key, err)
		}
	}

	roster, err := l.store.ListStudents(ctx, key.Intake, key.Course)
	if err != nil {
		return fmt.Errorf("loading roster for %s: %w", key, err)
	}

	// Absent is the default for every rostered student not in today's list.
	presence := make(map[string]bool, len(roster))
	for _, row := range roster {
		presence[row.StudentID] = presentIDs[row.StudentID]
	}

	if err := l.store.WriteDay(ctx, key.Intake, key.Course, key.Subject, dateKey, presence, attendedBy); err != nil {
		return fmt.Errorf("writing day %s for %s: %w", dateKey, key, err)
	}
	return nil
}

// StudentPercentages returns one student's attendance rate per subject for
// (intake, course). A subject with no date columns for the student counts
// as 0, never an error.
func (l *Ledger) StudentPercentages(ctx context.Context, intake, course, studentID string) (StudentSummary, error) {
	cells, err := l.store.AttendanceRows(ctx, intake, course)
	if err != nil {
		return StudentSummary{}, err
	}

	summary := StudentSummary{StudentID: studentID, Subjects: []SubjectPercentage{}}

	type tally struct {
		dates   map[string]bool
		present int
	}
	tallies := make(map[string]*tally)
	var subjects []string
	for _, c := range cells {
		t, ok := tallies[c.Subject]
		if !ok {
			t = &tally{dates: make(map[string]bool)}
			tallies[c.Subject] = t
			subjects = append(subjects, c.Subject)
		}
		t.dates[c.DateKey] = true
		if c.StudentID == studentID {
			if c.Name != "" {
				summary.Name = c.Name
			}
			if c.Present {
				t.present++
			}
		}
	}

	sort.Strings(subjects)
	for _, subject := range subjects {
		t := tallies[subject]
		pct := 0.0
		if len(t.dates) > 0 {
			pct = float64(t.present) / float64(len(t.dates)) * 100
		}
		summary.Subjects = append(summary.Subjects, SubjectPercentage{Subject: subject, Percentage: pct})
	}
	return summary, nil
}

// RollUp aggregates the whole (intake, course) ledger: per-student
// per-subject percentages plus the per-date present counts for the
// dashboard graph, sorted by date ascending.
func (l *Ledger) RollUp(ctx context.Context, intake, course string) (Report, error) {
	cells, err := l.store.AttendanceRows(ctx, intake, course)
	if err != nil {
		return Report{}, err
	}
	roster, err := l.store.ListStudents(ctx, intake, course)
	if err != nil {
		return Report{}, err
	}

	subjectDates := make(map[string]map[string]bool)
	presentBy := make(map[string]map[string]int) // student -> subject -> present days
	graphCount := make(map[[2]string]int)        // (dateKey, subject) -> present
	for _, c := range cells {
		dates, ok := subjectDates[c.Subject]
		if !ok {
			dates = make(map[string]bool)
			subjectDates[c.Subject] = dates
		}
		dates[c.DateKey] = true

		if c.Present {
			bySubject, ok := presentBy[c.StudentID]
			if !ok {
				bySubject = make(map[string]int)
				presentBy[c.StudentID] = bySubject
			}
			bySubject[c.Subject]++
			graphCount[[2]string{c.DateKey, c.Subject}]++
		}
	}

	subjects := make([]string, 0, len(subjectDates))
	for subject := range subjectDates {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	report := Report{StudentsData: []StudentSummary{}, GraphData: []GraphPoint{}}
	for _, row := range roster {
		summary := StudentSummary{StudentID: row.StudentID, Name: row.Name, Subjects: []SubjectPercentage{}}
		for _, subject := range subjects {
			total := len(subjectDates[subject])
			pct := 0.0
			if total > 0 {
				pct = float64(presentBy[row.StudentID][subject]) / float64(total) * 100
			}
			summary.Subjects = append(summary.Subjects, SubjectPercentage{Subject: subject, Percentage: pct})
		}
		report.StudentsData = append(report.StudentsData, summary)
	}

	for _, subject := range subjects {
		for date := range subjectDates[subject] {
			report.GraphData = append(report.GraphData, GraphPoint{
				DateKey:      date,
				Subject:      subject,
				PresentCount: graphCount[[2]string{date, subject}],
			})
		}
	}
	sort.Slice(report.GraphData, func(i, j int) bool {
		if report.GraphData[i].DateKey != report.GraphData[j].DateKey {
			return report.GraphData[i].DateKey < report.GraphData[j].DateKey
		}
		return report.GraphData[i].Subject < report.GraphData[j].Subject
	})
	return report, nil
}
