package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

// NewDiagnoseCommand reports store and snapshot health.
func NewDiagnoseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check record integrity, snapshots and sync health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rootOpts.client().call(cmd.Context(), http.MethodGet, "/admin/diagnose", nil, nil)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out)
		},
	}
}
