package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds the persistent flags shared by every subcommand.
type RootOptions struct {
	Addr    string
	Format  string
	Timeout time.Duration
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json", "yaml"}

const defaultAddr = "http://localhost:9080"

// NewRootCommand builds the xpctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "xpctl",
		Short: "Operate a levelup server",
		Long: `xpctl talks to the admin API of a running levelup server.

It lists, creates, restores and prunes backups, checks and repairs drift
between the progression and economy stores, and overrides member progress.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.Format = strings.ToLower(opts.Format)
			if !slices.Contains(ValidFormats, opts.Format) {
				return newExitError(ExitUsage, fmt.Sprintf("invalid format %q (want one of %s)", opts.Format, strings.Join(ValidFormats, ", ")))
			}
			if opts.Addr == "" {
				return newExitError(ExitUsage, "--addr must not be empty")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", defaultAddr, "base URL of the levelup server")
	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", "text", "output format: text, json or yaml")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDiagnoseCommand(opts))
	cmd.AddCommand(NewProgressCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))

	return cmd
}

func (o *RootOptions) client() *apiClient {
	return newAPIClient(o.Addr, o.Timeout)
}

func (o *RootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{format: o.Format, w: cmd.OutOrStdout()}
}
