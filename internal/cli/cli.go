// Package cli is the shared cobra bootstrap every debile program calls
// into: a version subcommand, capnslog level flags, and the spec's
// LANG=C/LC_ALL=C entry-point fixup, ahead of whatever a command's own
// PersistentPreRunE does. Grounded directly on mantle/cli/cli.go's
// Execute/WrapPreRun pair, trimmed of the multicall-entrypoint re-exec
// (debile ships four independent binaries, not one multicall dispatcher).
package cli

import (
	"os"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s version %s\n", cmd.Root().Name(), Version)
		},
	}

	logDebug   bool
	logVerbose bool
	logLevel   = capnslog.NOTICE

	plog = capnslog.NewPackageLogger("github.com/coreos/debile", "cli")
)

// Version is overridden at build time via -ldflags.
var Version = "unreleased"

// Execute fixes LANG/LC_ALL to C (spec.md §6, stabilizing external tool
// output parsing before any subcommand body or flag-parsing runs), wires
// the shared log-level flags and version subcommand, and runs root. It does
// not return.
func Execute(root *cobra.Command) {
	for _, key := range []string{"LANG", "LC_ALL"} {
		if err := os.Setenv(key, "C"); err != nil {
			plog.Fatalf("setting %s=C: %v", key, err)
		}
	}

	root.AddCommand(versionCmd)

	root.PersistentFlags().Var(&logLevel, "log-level", "Set global log level.")
	root.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false, "Alias for --log-level=INFO")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false, "Alias for --log-level=DEBUG")

	WrapPreRun(root, func(cmd *cobra.Command, args []string) error {
		return nil
	})

	if err := root.Execute(); err != nil {
		plog.Fatal(err)
	}
	os.Exit(0)
}

func startLogging(cmd *cobra.Command) {
	switch {
	case logDebug:
		logLevel = capnslog.DEBUG
	case logVerbose:
		logLevel = capnslog.INFO
	}

	capnslog.SetFormatter(capnslog.NewStringFormatter(cmd.OutOrStderr()))
	capnslog.SetGlobalLogLevel(logLevel)

	plog.Infof("Started logging at level %s", logLevel)
}

// PreRunEFunc is a cobra PersistentPreRunE-shaped hook.
type PreRunEFunc func(cmd *cobra.Command, args []string) error

// WrapPreRun installs f as root's PersistentPreRunE, always following it
// with startLogging — the same double-wrap mantle/cli/cli.go uses to work
// around cobra overwriting a parent's PersistentPreRun(E) with a child's
// (spf13/cobra#253).
func WrapPreRun(root *cobra.Command, f PreRunEFunc) {
	preRun, preRunE := root.PersistentPreRun, root.PersistentPreRunE
	root.PersistentPreRun, root.PersistentPreRunE = nil, nil

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := f(cmd, args); err != nil {
			return err
		}
		startLogging(cmd)
		if preRun != nil {
			preRun(cmd, args)
		} else if preRunE != nil {
			return preRunE(cmd, args)
		}
		return nil
	}
}
