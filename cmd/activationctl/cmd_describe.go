package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// describeCmd prints the fields of a CRM object, used when writing filters.
var describeCmd = &cobra.Command{
	Use:   "describe <sobject>",
	Short: "List the fields of a Salesforce object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.service(true)
		if err != nil {
			return err
		}
		fields, err := svc.DescribeObject(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tTYPE\tLABEL\tPICKLIST")
		for _, f := range fields {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, f.Type, f.Label, strings.Join(f.PicklistValues, ", "))
		}
		return tw.Flush()
	},
}
