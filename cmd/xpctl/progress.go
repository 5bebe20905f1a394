package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewProgressCommand groups the member progress reads and overrides.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Read and override member progress",
		Long: `Read and override member progress.

Overrides change XP and level without announcing level-ups or assigning roles.`,
	}
	cmd.AddCommand(newProgressGetCommand(rootOpts))
	cmd.AddCommand(newOverrideCommand(rootOpts, "set-xp <guild> <user> <xp>", "Set XP and recompute the level", "set_xp", 3))
	cmd.AddCommand(newOverrideCommand(rootOpts, "set-level <guild> <user> <level>", "Set the level and its minimum XP", "set_level", 3))
	cmd.AddCommand(newOverrideCommand(rootOpts, "add-levels <guild> <user> <n>", "Raise the level by n", "add_levels", 3))
	cmd.AddCommand(newOverrideCommand(rootOpts, "reset-user <guild> <user>", "Delete a member's record", "reset_user", 2))
	cmd.AddCommand(newOverrideCommand(rootOpts, "reset-guild <guild>", "Delete every record of a guild", "reset_guild", 1))
	return cmd
}

func newProgressGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <guild> <user>",
		Short: "Show a member's XP, level and progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/progress/" + pathEscape(args[0]) + "/" + pathEscape(args[1])
			out, err := rootOpts.client().call(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out)
		},
	}
}

// overrideRequest mirrors the body accepted by POST /admin/progress.
type overrideRequest struct {
	Action  string `json:"action"`
	GuildID string `json:"guildId"`
	UserID  string `json:"userId,omitempty"`
	XP      int64  `json:"xp,omitempty"`
	Level   int    `json:"level,omitempty"`
	Levels  int    `json:"levels,omitempty"`
}

func newOverrideCommand(rootOpts *RootOptions, use, short, action string, nargs int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildOverride(action, args)
			if err != nil {
				return err
			}
			out, err := rootOpts.client().call(cmd.Context(), http.MethodPost, "/admin/progress", nil, req)
			if err != nil {
				return err
			}
			return rootOpts.printer(cmd).print(out)
		},
	}
}

func buildOverride(action string, args []string) (overrideRequest, error) {
	req := overrideRequest{Action: action, GuildID: args[0]}
	if len(args) > 1 {
		req.UserID = args[1]
	}
	if len(args) < 3 {
		return req, nil
	}
	n, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return req, newExitError(ExitUsage, fmt.Sprintf("%s: %q is not an integer", action, args[2]))
	}
	switch action {
	case "set_xp":
		req.XP = n
	case "set_level":
		req.Level = int(n)
	case "add_levels":
		req.Levels = int(n)
	}
	return req, nil
}

// LeaderboardOptions holds flags for leaderboard.
type LeaderboardOptions struct {
	*RootOptions
	Limit int
}

// NewLeaderboardCommand lists the top members of a guild.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LeaderboardOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "leaderboard <guild>",
		Short: "List the top members of a guild by XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"limit": {strconv.Itoa(opts.Limit)}}
			out, err := opts.client().call(cmd.Context(), http.MethodGet, "/leaderboard/"+pathEscape(args[0]), q, nil)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(out, "rank", "record.userId", "record.level", "record.xp")
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of members")
	return cmd
}

func pathEscape(s string) string { return url.PathEscape(s) }
