// MobyCom alarm receiver daemon.
package main

import (
	"fmt"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/temoto/mobycom/helpers/cli"
	"github.com/temoto/mobycom/log2"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func newRootCmd() *cobra.Command {
	var flagConfig string
	var flagDebug bool
	root := &cobra.Command{
		Use:           "mobycom",
		Short:         "MobyCom alarm UDP receiver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLog(flagDebug)
		},
	}
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Receive datagrams, ack and dispatch events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flagConfig, flagDebug)
		},
	}
	runCmd.Flags().StringVar(&flagConfig, "config", "mobycom.hcl", "HCL config file")

	decodeCmd := &cobra.Command{
		Use:   "decode HEX...",
		Short: "Decode frames from hex and print ack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decodeArgs(cmd.OutOrStdout(), args)
		},
	}

	root.AddCommand(runCmd, decodeCmd)
	return root
}

func setupLog(debug bool) {
	switch {
	case sdnotify("start"):
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	case cli.IsInteractive():
		log.SetFlags(log2.LInteractiveFlags)
	default:
		log.SetFlags(log2.LStdFlags)
	}
	if debug {
		log.SetLevel(log2.LDebug)
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sdnotify:", errors.ErrorStack(err))
	}
	return ok
}
