package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewSyncCommand groups the store reconciliation operations.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Compare and reconcile the progression and economy stores",
	}
	cmd.AddCommand(newSyncStatusCommand(rootOpts))
	cmd.AddCommand(newSyncRunCommand(rootOpts))
	return cmd
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report drift between the stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rootOpts.client().call(cmd.Context(), http.MethodGet, "/admin/sync", nil, nil)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out)
		},
	}
}

// SyncRunOptions holds flags for sync run.
type SyncRunOptions struct {
	*RootOptions
	Direction string
}

func newSyncRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncRunOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Copy XP from one store to the other",
		Long: `Copy XP for every common member from one store to the other.

A snapshot is taken first; the run aborts if that snapshot fails.
Directions: progression_to_economy, economy_to_progression.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"direction": {opts.Direction}}
			out, err := opts.client().call(cmd.Context(), http.MethodPost, "/admin/sync", q, nil)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(out)
		},
	}
	cmd.Flags().StringVarP(&opts.Direction, "direction", "d", "", "progression_to_economy or economy_to_progression")
	_ = cmd.MarkFlagRequired("direction")
	return cmd
}
