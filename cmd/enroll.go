package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/detect"
	"github.com/hanifabd/rollcall/internal/enroll"
	"github.com/hanifabd/rollcall/internal/storage"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo-dir>",
	Short: "Enroll a student from a directory of photos",
	Long: `Enroll a student by averaging face embeddings from a directory of photos.

Each photo is sent to the detector sidecar, the largest face is cropped and
embedded, and the normalized mean of the successful embeddings is stored as
the student's enrollment vector. Photos without a usable face are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Student id (required)")
	enrollCmd.Flags().String("name", "", "Student display name (required)")
	enrollCmd.Flags().String("intake", "", "Intake, e.g. 2024 (required)")
	enrollCmd.Flags().String("course", "", "Course code (required)")
	enrollCmd.MarkFlagRequired("id")
	enrollCmd.MarkFlagRequired("name")
	enrollCmd.MarkFlagRequired("intake")
	enrollCmd.MarkFlagRequired("course")
}

// listPhotoFiles returns the image files in dir, sorted by name.
func listPhotoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading photo directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	studentID := mustGetString(cmd, "id")
	name := enroll.NormalizeName(mustGetString(cmd, "name"))
	intake := mustGetString(cmd, "intake")
	course := mustGetString(cmd, "course")

	paths, err := listPhotoFiles(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no photos found in %s", args[0])
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Reading photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	photos := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		photos = append(photos, data)
		bar.Add(1)
	}
	fmt.Println()

	sidecar := detect.NewClient(cfg.Detector.URL)
	enroller := enroll.New(sidecar, sidecar, cfg.Tuning)

	fmt.Printf("Embedding %d photo(s) for %s (%s)...\n", len(photos), name, studentID)
	mean, results, err := enroller.MeanEmbedding(context.Background(), photos)
	if err != nil {
		for _, res := range results {
			if res.Err != nil {
				fmt.Printf("  %s: %v\n", filepath.Base(paths[res.Index]), res.Err)
			}
		}
		return fmt.Errorf("enrollment failed: %w", err)
	}

	usable := 0
	for _, res := range results {
		if res.Err == nil {
			usable++
		} else {
			fmt.Printf("  skipped %s: %v\n", filepath.Base(paths[res.Index]), res.Err)
		}
	}

	store, err := storage.Open(cfg.Database.Dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	enrollment := storage.Enrollment{
		Intake:    intake,
		Course:    course,
		StudentID: studentID,
		Name:      name,
		Vector:    mean,
	}
	if err := store.SaveEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("saving enrollment: %w", err)
	}
	if err := store.UpsertStudent(ctx, intake, course, studentID, name); err != nil {
		return fmt.Errorf("updating roster: %w", err)
	}

	fmt.Printf("Enrolled %s (%s) in %s/%s from %d of %d photo(s), %d-dim vector\n",
		name, studentID, intake, course, usable, len(photos), len(mean))
	return nil
}
