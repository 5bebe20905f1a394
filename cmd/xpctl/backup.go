package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

// NewBackupCommand groups the snapshot operations.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "List, create, restore and prune snapshots",
	}
	cmd.AddCommand(newBackupListCommand(rootOpts))
	cmd.AddCommand(newBackupCreateCommand(rootOpts))
	cmd.AddCommand(newBackupRestoreCommand(rootOpts))
	cmd.AddCommand(newBackupPruneCommand(rootOpts))
	return cmd
}

func newBackupListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rootOpts.client().call(cmd.Context(), http.MethodGet, "/admin/backups", nil, nil)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out, "id", "label", "createdAt", "size", "metadata.totalUsers")
		},
	}
}

// BackupCreateOptions holds flags for backup create.
type BackupCreateOptions struct {
	*RootOptions
	Label string
}

func newBackupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupCreateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take a snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"label": opts.Label}
			out, err := opts.client().call(cmd.Context(), http.MethodPost, "/admin/backups", nil, body)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(out)
		},
	}
	cmd.Flags().StringVarP(&opts.Label, "label", "l", "manual", "snapshot label")
	return cmd
}

func newBackupRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a snapshot after taking a safety snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/backups/" + pathEscape(args[0]) + "/restore"
			out, err := rootOpts.client().call(cmd.Context(), http.MethodPost, path, nil, nil)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out)
		},
	}
}

func newBackupPruneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots beyond the retention count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rootOpts.client().call(cmd.Context(), http.MethodPost, "/admin/backups/prune", nil, nil)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out)
		},
	}
}
