package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zk.share/internal/client"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id|link>",
		Short: "Show a secret's state without consuming a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, err := client.ParseLink(args[0])
			if err != nil {
				return err
			}
			st, err := opts.client().Status(cmd.Context(), id)
			if err != nil {
				return err
			}

			state := color.GreenString(st.State)
			if !st.CanView {
				state = color.RedString(st.State) + " (" + st.Reason + ")"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%s\n", st.ID)
			fmt.Fprintf(w, "State\t%s\n", state)
			fmt.Fprintf(w, "Views\t%s\n", views(st))
			fmt.Fprintf(w, "Expires\t%s\n", expiry(st))
			fmt.Fprintf(w, "Burn on read\t%t\n", st.BurnOnRead)
			fmt.Fprintf(w, "Password\t%t\n", st.PasswordProtected)
			return w.Flush()
		},
	}
}

func views(st *client.Status) string {
	if st.MaxViews == nil {
		return strconv.Itoa(st.ViewCount) + " (unlimited)"
	}
	return strconv.Itoa(st.ViewCount) + "/" + strconv.Itoa(*st.MaxViews)
}

func expiry(st *client.Status) string {
	if st.ExpiresAt == nil {
		return "never"
	}
	return st.ExpiresAt.Local().Format("2006-01-02 15:04 MST")
}
