package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zk.share/internal/client"
)

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		password string
		maxViews int
		expires  string
		burn     bool
	)

	cmd := &cobra.Command{
		Use:   "create [secret]",
		Short: "Encrypt a secret locally and upload it",
		Long: `Encrypts the secret given as argument, or read from stdin, and prints the share link.
Without --password the link carries the key after '#'; share it whole.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := readSecret(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			create := client.CreateOptions{
				Password:   password,
				ExpiresIn:  expires,
				BurnOnRead: burn,
			}
			if cmd.Flags().Changed("max-views") {
				create.MaxViews = &maxViews
			}

			created, err := opts.client().Create(cmd.Context(), plaintext, create)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, created.ShareURL)
			fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("✓")+" secret "+created.ID+" stored")
			if created.ExpiresAt != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), color.CyanString("→")+" expires "+created.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "derive the key from a password instead of embedding it in the link")
	cmd.Flags().IntVar(&maxViews, "max-views", 0, "number of views before the secret is deleted")
	cmd.Flags().StringVar(&expires, "expires", "", "lifetime such as 1h, 7d, 2w or never (server default when empty)")
	cmd.Flags().BoolVar(&burn, "burn", false, "delete after the first view")
	return cmd
}

func readSecret(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(err, "reading stdin")
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.New("nothing to share: pass the secret as an argument or on stdin")
	}
	return secret, nil
}
