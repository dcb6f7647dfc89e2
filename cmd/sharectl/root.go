package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"zk.share/internal/client"
)

type globalOptions struct {
	server  string
	org     string
	user    string
	role    string
	timeout time.Duration
}

func (o *globalOptions) client() *client.Client {
	return client.New(client.Config{
		Server:  o.server,
		OrgID:   o.org,
		UserID:  o.user,
		Role:    o.role,
		Timeout: o.timeout,
	}, nil)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "sharectl",
		Short: "Share secrets through one-time links",
		Long: `sharectl encrypts secrets on this machine and uploads only the ciphertext.
The decryption key travels in the link fragment and never reaches the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("SHARE_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", server, "sharing server base URL (env SHARE_SERVER)")
	flags.StringVar(&opts.org, "org", os.Getenv("SHARE_ORG"), "organization id sent as X-Org-ID")
	flags.StringVar(&opts.user, "user", os.Getenv("USER"), "user id sent as X-User-ID")
	flags.StringVar(&opts.role, "role", "", "role sent as X-User-Role (owner, admin, member)")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newCreateCmd(opts),
		newRevealCmd(opts),
		newStatusCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}
