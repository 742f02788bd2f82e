package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/staffauth"
)

func newStaffTokenCmd(a *cliApp) *cobra.Command {
	var (
		id  string
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "staff-token",
		Short: "Mint bearer credentials for a staff member",
		Long: `Sign credentials that let a staff member manage tokens through the HTTP API.
The server must run with the same secret key.`,
		Example: `  examctl staff-token --id instructor --ttl 8h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := staffauth.New(staffauth.Config{SecretKey: a.secretKey})
			if err != nil {
				return fmt.Errorf("can't sign credentials: %w", err)
			}

			token, expiresAt, err := m.Issue(models.Caller{ID: id, Staff: true}, ttl)
			if err != nil {
				return fmt.Errorf("can't sign credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "Valid until %s. Send it as 'Authorization: Bearer <token>'\n", expiresAt.Format(timeLayout))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Staff member id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Credentials lifetime (default 12h)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
