package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
)

type cleanupOptions struct {
	days      int
	batchSize int
	examID    int64
	dryRun    bool
	force     bool
	verbose   bool
}

func newCleanupCmd(a *cliApp) *cobra.Command {
	var opts cleanupOptions

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired exam access tokens",
		Long: `Delete tokens whose validity window ended. Used and unused tokens are both removed.
Deletion runs in batches; tokens being redeemed at the same moment are left for the next run.`,
		Example: `  examctl cleanup --dry-run
  examctl cleanup --days 30 --force
  examctl cleanup --exam 12 --batch-size 500 --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, a, opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 0, "Delete tokens expired more than N days ago (0 means all expired)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 1000, "Tokens deleted per batch")
	cmd.Flags().Int64Var(&opts.examID, "exam", 0, "Only tokens of the exam")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be deleted without deleting")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Skip confirmation prompt")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detailed information")

	return cmd
}

func runCleanup(cmd *cobra.Command, a *cliApp, opts cleanupOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	gw, _, closeStorage, err := a.gateway(ctx, out)
	if err != nil {
		return err
	}
	defer closeStorage()

	req := gateway.CleanupRequest{
		OlderThanDays: opts.days,
		BatchSize:     opts.batchSize,
	}
	if opts.examID != 0 {
		req.ExamID = &opts.examID
	}

	fmt.Fprintln(out, "=== Exam Access Token Cleanup ===")
	fmt.Fprintln(out)

	preview := req
	preview.DryRun = true
	found, err := gw.Cleanup(ctx, models.SystemCaller, preview)
	if err != nil {
		return fmt.Errorf("can't count expired tokens: %w", err)
	}
	if found.Deleted == 0 {
		fmt.Fprintln(out, "No expired tokens found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d expired tokens to clean up:\n", found.Deleted)
	if opts.days > 0 {
		fmt.Fprintf(out, "  - Tokens expired more than %d days ago\n", opts.days)
	} else {
		fmt.Fprintln(out, "  - All expired tokens")
	}
	if req.ExamID != nil {
		fmt.Fprintf(out, "  - Exam: %d\n", opts.examID)
	}
	fmt.Fprintf(out, "  - Cutoff date: %s\n", found.Cutoff.Format(timeLayout))

	if opts.verbose || opts.dryRun {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Statistics:")
		fmt.Fprintf(out, "  - Used expired tokens: %d\n", found.Used)
		fmt.Fprintf(out, "  - Unused expired tokens: %d\n", found.Unused)
	}

	if opts.dryRun {
		fmt.Fprintf(out, "\nDRY RUN: Would delete %d expired tokens. Run without --dry-run to actually delete them.\n", found.Deleted)
		return nil
	}

	if !opts.force && !confirm(cmd.InOrStdin(), out, found.Deleted) {
		fmt.Fprintln(out, "Operation cancelled.")
		return nil
	}

	fmt.Fprintln(out, "\nCleaning up expired tokens...")
	report, err := gw.Cleanup(ctx, models.SystemCaller, req)
	if err != nil {
		// Committed batches stay deleted
		fmt.Fprintf(out, "Deleted %d tokens before failure\n", report.Deleted)
		return fmt.Errorf("error during cleanup: %w", err)
	}

	if opts.verbose {
		fmt.Fprintf(out, "  Batches: %d (used %d, unused %d)\n", report.Batches, report.Used, report.Unused)
	}
	fmt.Fprintf(out, "Successfully cleaned up %d expired tokens!\n", report.Deleted)

	return nil
}

func confirm(in io.Reader, out io.Writer, count int) bool {
	fmt.Fprintf(out, "\nAre you sure you want to permanently delete %d expired tokens? [y/N]: ", count)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
