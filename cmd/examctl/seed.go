package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
)

var sampleSubjects = []models.Subject{
	{Username: "alice_student", Email: "alice@example.com", FirstName: "Alice", LastName: "Johnson"},
	{Username: "bob_student", Email: "bob@example.com", FirstName: "Bob", LastName: "Smith"},
	{Username: "carol_student", Email: "carol@example.com", FirstName: "Carol", LastName: "Davis"},
}

func newSeedCmd(a *cliApp) *cobra.Command {
	var (
		withTokens   bool
		validMinutes int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sample exams and students",
		Long: `Create a future, a running and a past exam together with sample students.
Students that already exist are skipped. With --tokens every new student gets
an access token to the running exam.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, a, withTokens, validMinutes)
		},
	}

	cmd.Flags().BoolVar(&withTokens, "tokens", false, "Issue access tokens to the running exam")
	cmd.Flags().IntVar(&validMinutes, "valid-minutes", 30, "Validity of issued tokens")

	return cmd
}

func runSeed(cmd *cobra.Command, a *cliApp, withTokens bool, validMinutes int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	gw, storage, closeStorage, err := a.gateway(ctx, out)
	if err != nil {
		return err
	}
	defer closeStorage()

	now := time.Now().UTC().Truncate(time.Minute)
	exams := []struct {
		kind string
		exam models.Exam
	}{
		{"future", models.Exam{Title: "Python Programming Fundamentals", StartTime: now.Add(24 * time.Hour), EndTime: now.Add(26 * time.Hour)}},
		{"current", models.Exam{Title: "Web Development with Django", StartTime: now.Add(-30 * time.Minute), EndTime: now.Add(90 * time.Minute)}},
		{"past", models.Exam{Title: "Database Design and SQL", StartTime: now.Add(-7 * 24 * time.Hour), EndTime: now.Add(-7*24*time.Hour + 2*time.Hour)}},
	}

	var current models.Exam
	for _, e := range exams {
		created, err := storage.Exam().CreateExam(ctx, e.exam)
		if err != nil {
			return fmt.Errorf("can't create %s exam: %w", e.kind, err)
		}
		if e.kind == "current" {
			current = created
		}
		fmt.Fprintf(out, "Created %s exam #%d: %s\n", e.kind, created.ID, created.Title)
	}

	var students []models.Subject
	for _, s := range sampleSubjects {
		created, err := storage.Subject().CreateSubject(ctx, s)
		switch {
		case errors.Is(err, apperrors.ErrInvalidInput):
			fmt.Fprintf(out, "Student %s already exists, skipped\n", s.Username)
			continue
		case err != nil:
			return fmt.Errorf("can't create student %s: %w", s.Username, err)
		}
		students = append(students, created)
		fmt.Fprintf(out, "Created student #%d: %s\n", created.ID, created.Username)
	}

	if !withTokens || len(students) == 0 {
		return nil
	}

	fmt.Fprintf(out, "Access tokens for %q:\n", current.Title)
	for _, s := range students {
		_, err := gw.Issue(ctx, models.SystemCaller, gateway.IssueRequest{
			ExamID:       current.ID,
			SubjectID:    s.ID,
			ValidMinutes: validMinutes,
		})
		if err != nil {
			return fmt.Errorf("can't issue token to %s: %w", s.Username, err)
		}
	}

	return nil
}
