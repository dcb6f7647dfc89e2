package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zk.share/internal/client"
)

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|link>",
		Short: "Delete a secret before it is viewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, err := client.ParseLink(args[0])
			if err != nil {
				return err
			}
			if err := opts.client().Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" deleted "+id)
			return nil
		},
	}
}
