package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/storage"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students for an intake and course",
	RunE:  runStudentsList,
}

var studentsRemoveCmd = &cobra.Command{
	Use:   "remove <student-id>",
	Short: "Remove a student's enrollment and roster entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsRemove,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
	studentsCmd.AddCommand(studentsListCmd)
	studentsCmd.AddCommand(studentsRemoveCmd)

	for _, c := range []*cobra.Command{studentsListCmd, studentsRemoveCmd} {
		c.Flags().String("intake", "", "Intake, e.g. 2024 (required)")
		c.Flags().String("course", "", "Course code (required)")
		c.MarkFlagRequired("intake")
		c.MarkFlagRequired("course")
	}
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	intake := mustGetString(cmd, "intake")
	course := mustGetString(cmd, "course")

	store, err := storage.Open(cfg.Database.Dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	enrollments, err := store.ListEnrollments(context.Background(), intake, course)
	if err != nil {
		return fmt.Errorf("listing enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		fmt.Printf("No students enrolled in %s/%s\n", intake, course)
		return nil
	}

	fmt.Printf("Students enrolled in %s/%s:\n", intake, course)
	for _, e := range enrollments {
		fmt.Printf("  %-12s %s (%d-dim)\n", e.StudentID, e.Name, len(e.Vector))
	}
	return nil
}

func runStudentsRemove(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	studentID := args[0]
	intake := mustGetString(cmd, "intake")
	course := mustGetString(cmd, "course")

	store, err := storage.Open(cfg.Database.Dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	existed, err := store.DeleteEnrollment(ctx, intake, course, studentID)
	if err != nil {
		return fmt.Errorf("removing enrollment: %w", err)
	}
	if _, err := store.DeleteStudent(ctx, intake, course, studentID); err != nil {
		return fmt.Errorf("removing roster entry: %w", err)
	}

	if existed {
		fmt.Printf("Removed %s from %s/%s\n", studentID, intake, course)
	} else {
		fmt.Printf("No enrollment found for %s in %s/%s\n", studentID, intake, course)
	}
	return nil
}
