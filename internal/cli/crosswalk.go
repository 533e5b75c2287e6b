package cli

import (
	"github.com/spf13/cobra"
)

func newCrosswalkCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crosswalk <source-accreditor> <target-accreditor>",
		Short: "Match one accreditor's standards to another's",
		Long: `Crosswalk prints a one-to-one matching between the standards of two
accreditors. Every standard appears once, matched or unmatched.

Example:
  accordctl crosswalk --corpus standards.yaml SACS HLC`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			res, err := a.Matcher.Crosswalk(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	return cmd
}
