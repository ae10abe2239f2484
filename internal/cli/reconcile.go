package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"identify/internal/contact/handler"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Email       string
	PhoneNumber string
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one email/phone sighting and print its cluster",
		Long: `Reconcile one email/phone sighting against the configured store and
print the consolidated contact.

Example:
  identify reconcile --email a@x.com --phone 111`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.RootOptions, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.service.Reconcile(cmd.Context(), opts.Email, opts.PhoneNumber)
			if err != nil {
				return err
			}
			if opts.Format == "text" {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "primary:     %d\n", view.PrimaryContactID)
				fmt.Fprintf(out, "emails:      %s\n", joinOrDash(view.Emails))
				fmt.Fprintf(out, "phones:      %s\n", joinOrDash(view.PhoneNumbers))
				fmt.Fprintf(out, "secondaries: %s\n", joinIDs(view.SecondaryContactIDs))
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), handler.IdentifyResponse{Contact: view})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "email address of the sighting")
	cmd.Flags().StringVar(&opts.PhoneNumber, "phone", "", "phone number of the sighting")

	return cmd
}
