package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"identify/internal/contact/models"
)

// NewContactsCommand creates the contacts command.
func NewContactsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "Print every stored contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			contacts, err := a.service.ListContacts(cmd.Context())
			if err != nil {
				return err
			}
			if contacts == nil {
				contacts = []*models.Contact{}
			}
			if rootOpts.Format == "text" {
				return writeContactTable(cmd, contacts)
			}
			return writeJSON(cmd.OutOrStdout(), contacts)
		},
	}
}

func writeContactTable(cmd *cobra.Command, contacts []*models.Contact) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tPHONE\tLINKED\tPRECEDENCE\tCREATED")
	for _, c := range contacts {
		linked := "-"
		if c.LinkedID != nil {
			linked = fmt.Sprint(*c.LinkedID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, orDash(c.EmailValue()), orDash(c.PhoneValue()), linked, c.LinkPrecedence,
			c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return tw.Flush()
}
