package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRevealCmd(opts *globalOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "reveal <link>",
		Short: "Fetch and decrypt a secret (consumes one view)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revealed, err := opts.client().Reveal(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), revealed.Plaintext)

			switch {
			case revealed.ViewsRemaining != nil && *revealed.ViewsRemaining == 0:
				fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("!")+" that was the last view; the secret is gone")
			case revealed.ViewsRemaining != nil:
				fmt.Fprintln(cmd.ErrOrStderr(), color.CyanString("→")+" "+strconv.Itoa(*revealed.ViewsRemaining)+" views remaining")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password for password-protected secrets")
	return cmd
}
