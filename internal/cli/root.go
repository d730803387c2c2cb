// Package cli holds the collabboard command line.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version information, set from main.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
)

// SetVersionInfo records build information shown by version.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "collabboard",
		Short: "CollabBoard - real-time collaborative whiteboard server",
		Long: `CollabBoard hosts shared whiteboard rooms over websockets.

Everyone in a room sees the same ordered list of strokes. Undo and redo
are global to the room: any participant can undo the most recent stroke,
whoever drew it.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}

	root.AddCommand(newServeCmd(), newDiscoverCmd(), newVersionCmd())
	return root
}

// Execute runs the command line and prints any error to stderr.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		red.Fprintf(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "collabboard %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
